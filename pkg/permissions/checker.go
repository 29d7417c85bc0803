// Package permissions matches the permission list forwarded by the gateway
// in X-User-Permissions against what a slotting endpoint requires.
//
// A grant is "*", "resource.*" or "resource.action".
package permissions

import (
	"strings"
)

const (
	SlottingRead  = "slotting.read"
	SlottingWrite = "slotting.write"
	SlottingAll   = "slotting.*"
)

const wildcard = "*"

// grants reports whether a single grant covers required.
func grants(grant, required string) bool {
	if grant == wildcard || grant == required {
		return true
	}
	resource, action, ok := strings.Cut(grant, ".")
	if !ok || action != wildcard {
		return false
	}
	reqResource, _, _ := strings.Cut(required, ".")
	return reqResource == resource && strings.Contains(required, ".")
}

// HasPermission reports whether any of perms covers required. An empty
// requirement is always satisfied.
func HasPermission(perms []string, required string) bool {
	if required == "" {
		return true
	}
	for _, p := range perms {
		if grants(p, required) {
			return true
		}
	}
	return false
}

// ParseHeader splits the comma separated header value, dropping blanks.
func ParseHeader(value string) []string {
	var perms []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}
