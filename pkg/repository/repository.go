// Package repository provides persistence backends for history namespaces.
package repository

import (
	"regexp"

	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// validateNamespace rejects names that can not be used as a file or
// collection name
func validateNamespace(namespace string) error {
	if !namespacePattern.MatchString(namespace) {
		return goerr.New("invalid history namespace", goerr.T(model.TagValidation), goerr.V("namespace", namespace))
	}
	return nil
}

func copyRow(row *model.Row) *model.Row {
	payload := make([]byte, len(row.Payload))
	copy(payload, row.Payload)
	return &model.Row{
		ID:        row.ID,
		Timestamp: row.Timestamp,
		Payload:   payload,
	}
}
