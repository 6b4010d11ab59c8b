package persona

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/trustvault/trustvault/internal/apperr"
)

const (
	bundleDir          = "persona-bundle/"
	personaEntry       = bundleDir + "persona.json"
	metadataEntry      = bundleDir + "metadata.json"
	integrityEntry     = bundleDir + "integrity.sha256"
	maxImportBytes     = 1 << 20 // 1 MB
	maxImportEntries   = 8
	maxImportFileBytes = 1 << 20
)

var allowedEntries = map[string]bool{
	personaEntry:   true,
	metadataEntry:  true,
	integrityEntry: true,
}

type bundleMetadata struct {
	AgentID        string `json:"agent_id"`
	PersonaHash    string `json:"persona_hash"`
	PersonaVersion string `json:"persona_version"`
}

// ExportBundle produces a zip archive containing persona.json, metadata.json,
// and integrity.sha256 for the agent's current persona.
func (s *Service) ExportBundle(ctx context.Context, agentID string) ([]byte, error) {
	p, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	personaJSON := p.CanonicalJSON
	metaJSON, err := json.Marshal(bundleMetadata{AgentID: agentID, PersonaHash: p.Hash, PersonaVersion: p.Version})
	if err != nil {
		return nil, fmt.Errorf("marshal bundle metadata: %w", err)
	}

	bundleSum := sha256.Sum256(append(append([]byte{}, personaJSON...), metaJSON...))
	integrity := fmt.Sprintf("persona_hash=%s\nbundle_sha256=%s\n", p.Hash, hex.EncodeToString(bundleSum[:]))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string][]byte{
		personaEntry:   personaJSON,
		metadataEntry:  metaJSON,
		integrityEntry: []byte(integrity),
	} {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportBundle parses a zip archive produced by ExportBundle, verifies its
// embedded tamper-evidence hash, then registers or updates the importing
// agent's persona re-signed under its own API key.
func (s *Service) ImportBundle(ctx context.Context, agentID, apiKey string, data []byte) (*Persona, error) {
	if len(data) > maxImportBytes {
		return nil, apperr.TooLarge("bundle exceeds 1 MB limit")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Validation("not a valid zip archive")
	}
	if len(zr.File) > maxImportEntries {
		return nil, apperr.Validation("bundle has too many entries")
	}

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if !allowedEntries[f.Name] {
			return nil, apperr.Validation(fmt.Sprintf("unexpected bundle entry %q", f.Name))
		}
		if f.UncompressedSize64 > maxImportFileBytes {
			return nil, apperr.TooLarge(fmt.Sprintf("bundle entry %q exceeds size limit", f.Name))
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open bundle entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxImportFileBytes+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read bundle entry %s: %w", f.Name, err)
		}
		files[f.Name] = content
	}

	personaJSON, ok := files[personaEntry]
	if !ok {
		return nil, apperr.Validation("bundle missing persona.json")
	}
	metaJSON, ok := files[metadataEntry]
	if !ok {
		return nil, apperr.Validation("bundle missing metadata.json")
	}
	integrity, ok := files[integrityEntry]
	if !ok {
		return nil, apperr.Validation("bundle missing integrity.sha256")
	}

	bundleSum := sha256.Sum256(append(append([]byte{}, personaJSON...), metaJSON...))
	wantLine := fmt.Sprintf("bundle_sha256=%s", hex.EncodeToString(bundleSum[:]))
	if !containsLine(string(integrity), wantLine) {
		return nil, apperr.Validation("bundle signature mismatch: content does not match integrity.sha256")
	}

	personality, guardrails, constraints, err := decodeCanonical(personaJSON)
	if err != nil {
		return nil, apperr.Validation("persona.json is not valid persona data")
	}
	var w wireForm
	if err := json.Unmarshal(personaJSON, &w); err != nil {
		return nil, apperr.Validation("persona.json is not valid persona data")
	}

	if _, err := s.Get(ctx, agentID); err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindNotFound {
			return s.Register(ctx, agentID, apiKey, RegisterRequest{
				Version: w.Version, Personality: personality, Guardrails: guardrails, Constraints: constraints,
			})
		}
		return nil, err
	}

	res, err := s.Update(ctx, agentID, apiKey, UpdateRequest{
		Version: w.Version, Personality: personality, Guardrails: guardrails, Constraints: constraints,
	})
	if err != nil {
		return nil, err
	}
	return res.Persona, nil
}

func containsLine(haystack, line string) bool {
	for _, l := range splitLines(haystack) {
		if l == line {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
