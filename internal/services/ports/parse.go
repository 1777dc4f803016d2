// Package ports discovers the host ports published for compose services.
package ports

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Parse errors.
var (
	ErrServiceNotFound = errors.New("service not found")
	ErrPortNotFound    = errors.New("published port not found")
	ErrMalformedPort   = errors.New("malformed port column")
)

// Binding is one published port token such as "0.0.0.0:32801->3306/tcp".
type Binding struct {
	HostIP        string
	HostPort      string
	ContainerPort string
	Protocol      string
}

// ParsePort finds the first line of a status listing that mentions service,
// then the first column on that line mapping to containerPort, and returns
// the published host port.
func ParsePort(output, service, containerPort string) (string, error) {
	line, ok := findLine(output, service)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrServiceNotFound, service)
	}

	marker := "->" + containerPort
	var malformed error
	for _, column := range strings.Fields(line) {
		column = strings.TrimRight(column, ",")
		if !strings.Contains(column, marker) {
			continue
		}

		binding, err := parseBinding(column)
		if err != nil {
			// Port ranges like "9000-9001->8080-8081/tcp" also contain the marker.
			if malformed == nil {
				malformed = err
			}
			continue
		}
		// "->80" is also a prefix of "->8080".
		if binding.ContainerPort != containerPort {
			continue
		}
		return binding.HostPort, nil
	}

	if malformed != nil {
		return "", malformed
	}
	return "", fmt.Errorf("%w: %s for service %q", ErrPortNotFound, marker, service)
}

// ParseBindings returns every published port token on the first line that
// mentions service. Tokens that are not host bindings are skipped.
func ParseBindings(output, service string) ([]Binding, error) {
	line, ok := findLine(output, service)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, service)
	}

	var bindings []Binding
	for _, column := range strings.Fields(line) {
		column = strings.TrimRight(column, ",")
		if !strings.Contains(column, "->") {
			continue
		}
		binding, err := parseBinding(column)
		if err != nil {
			continue
		}
		bindings = append(bindings, binding)
	}

	return bindings, nil
}

func findLine(output, service string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, service) {
			return line, true
		}
	}
	return "", false
}

// parseBinding splits "ip:host->container/proto". IPv6 hosts such as
// "[::]:8080->80/tcp" are handled by taking the last colon before "->".
func parseBinding(column string) (Binding, error) {
	left, right, found := strings.Cut(column, "->")
	if !found {
		return Binding{}, fmt.Errorf("%w: %q", ErrMalformedPort, column)
	}

	idx := strings.LastIndex(left, ":")
	if idx < 0 {
		return Binding{}, fmt.Errorf("%w: %q", ErrMalformedPort, column)
	}

	b := Binding{
		HostIP:   left[:idx],
		HostPort: left[idx+1:],
	}
	b.ContainerPort, b.Protocol, _ = strings.Cut(right, "/")

	if !isDigits(b.HostPort) {
		return Binding{}, fmt.Errorf("%w: %q", ErrMalformedPort, column)
	}

	return b, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
