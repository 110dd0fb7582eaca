package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		disabledServicesPolicy(),
	}
}

// disabledServicesPolicy denies every handler of a service listed in
// data.config.disabled_services. The list is set with SetDisabledServices.
func disabledServicesPolicy() Policy {
	return Policy{
		Name:        "disabled-services",
		Description: "Blocks triggers and actions of services switched off in configuration",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"services", "kill-switch"},
		Rego: `package openzap.services

deny contains violation if {
	some service in data.config.disabled_services
	input.step.service_id == service
	violation := {
		"message": sprintf("service %s is disabled", [service]),
		"severity": "error",
	}
}
`,
	}
}
