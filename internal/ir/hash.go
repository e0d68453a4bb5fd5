package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content hashes.
// The version suffix leaves room for algorithm changes.
const (
	DomainContent  = "mnemo/content/v1"
	DomainWorkflow = "mnemo/workflow/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash fingerprints free-form text. Used to skip re-extraction when a
// context's content has not changed.
func ContentHash(text string) string {
	return hashWithDomain(DomainContent, []byte(norm.NFC.String(text)))
}

// WorkflowHash fingerprints a workflow definition, ignoring timestamps.
// Two definitions with the same hash behave identically.
func WorkflowHash(w Workflow) (string, error) {
	raw, err := json.Marshal(struct {
		ID          string      `json:"id"`
		Name        string      `json:"name"`
		Description string      `json:"description"`
		Trigger     TriggerSpec `json:"trigger"`
		Actions     []Action    `json:"actions"`
		Enabled     bool        `json:"enabled"`
	}{w.ID, w.Name, w.Description, w.Trigger, w.Actions, w.Enabled})
	if err != nil {
		return "", fmt.Errorf("workflow hash: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("workflow hash: %w", err)
	}
	canonical, err := MarshalCanonical(generic)
	if err != nil {
		return "", fmt.Errorf("workflow hash: %w", err)
	}
	return hashWithDomain(DomainWorkflow, canonical), nil
}
