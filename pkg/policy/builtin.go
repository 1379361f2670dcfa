package policy

// GetBuiltinPolicies returns the policies every gate starts with.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		rootRemovalPolicy(),
		plaintextCredentialsPolicy(),
	}
}

// rootRemovalPolicy blocks process calls that remove the filesystem root.
func rootRemovalPolicy() Policy {
	return Policy{
		Name:        "root-removal",
		Description: "Blocks process calls that would run rm against /",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package froyo.capability.root_removal

import rego.v1

command := input.args[0] if {
	input.member != "runCommand"
}

command := input.args[2] if {
	input.member == "runCommand"
}

first_arg := 2 if {
	input.member != "runCommand"
}

first_arg := 3 if {
	input.member == "runCommand"
}

rest := [a |
	some i, a in input.args
	i >= first_arg
	is_string(a)
]

line := concat(" ", array.concat([command], rest))

deny contains violation if {
	input.object == "process"
	regex.match(` + "`" + `(^|[;&|]\s*)rm\s+(-\S+\s+)*/\*?(\s|$)` + "`" + `, line)
	violation := {
		"message": sprintf("%s refuses to remove the filesystem root", [input.op]),
		"severity": "critical",
	}
}
`,
	}
}

// plaintextCredentialsPolicy warns when an Authorization header is sent
// over plain http to a non-local host.
func plaintextCredentialsPolicy() Policy {
	return Policy{
		Name:        "plaintext-credentials",
		Description: "Warns when Authorization headers are sent over plain http",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package froyo.capability.plaintext_credentials

import rego.v1

header_index := 2 if {
	input.member in {"get", "delete", "getAsync", "deleteAsync"}
}

header_index := 3 if {
	input.member in {"post", "put", "patch", "postAsync", "putAsync", "patchAsync"}
}

local(url) if startswith(url, "http://localhost")

local(url) if startswith(url, "http://127.0.0.1")

deny contains violation if {
	input.object == "http"
	url := input.args[0]
	is_string(url)
	startswith(url, "http://")
	not local(url)
	some h in input.args[header_index]
	startswith(lower(h), "authorization:")
	violation := {
		"message": sprintf("%s sends credentials over plain http to %s", [input.op, url]),
		"severity": "warning",
	}
}
`,
	}
}
