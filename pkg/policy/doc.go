// Package policy provides Open Policy Agent (OPA) guards for zap steps.
//
// Before the chain executor calls a trigger or action handler it asks its
// engine.Guard whether the invocation may proceed. Engine implements that
// guard by evaluating every enabled Rego policy against the invocation.
//
// # Input
//
// Policies see the following document as input:
//
//	{
//	  "step": {
//	    "zap_id": "...", "zap_name": "...", "step_id": "...",
//	    "step_type": "trigger", "step_order": 0,
//	    "service_id": "http", "class_name": "http.poll_json"
//	  },
//	  "context": {
//	    "environment": "production",
//	    "timestamp": "2026-01-02T15:04:05Z",
//	    "weekday": "Friday", "hour": 15
//	  }
//	}
//
// Each policy module defines a deny set. Members are either strings or
// objects with message and severity keys:
//
//	package openzap.quiet_hours
//
//	deny contains msg if {
//	    input.step.step_type == "action"
//	    input.context.hour < 6
//	    msg := "actions are paused overnight"
//	}
//
// Violations with error or critical severity block the step. Info and
// warning violations are logged only.
//
// # Built-in Policies
//
// disabled-services blocks every handler of the services passed to
// SetDisabledServices. Built-in policies survive reloads and cannot be
// shadowed by loaded policies.
//
// # Loading
//
// LoadPolicies reads .rego and .json files from files or directories.
// A Rego file is named after its file name, takes its leading comment block
// as description and may set its severity with a "# severity: warning"
// comment. WatchPolicies also reloads the set with fsnotify whenever a file
// changes. A set that fails to compile leaves the previous one in place.
package policy
