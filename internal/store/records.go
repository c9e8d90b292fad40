package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/replaylab/unscramble/internal/rule"
)

// AlreadyExistsError reports an attempt to save a rule record that
// conflicts with an existing one for the same participant. Saving a
// byte-equivalent record is not an error; only differing content is.
type AlreadyExistsError struct {
	ParticipantID string
	Path          string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("rule record for participant %s already exists with different content: %s", e.ParticipantID, e.Path)
}

// RuleRecords stores one write-once YAML rule record per participant
// under a state directory. Records never change after creation: the
// permutation learned on day 1 must be byte-for-byte the one applied on
// day 2.
type RuleRecords struct {
	dir string
}

// NewRuleRecords returns a record store rooted at dir, creating it if
// needed.
func NewRuleRecords(dir string) (*RuleRecords, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &RuleRecords{dir: dir}, nil
}

// Dir returns the state directory.
func (r *RuleRecords) Dir() string {
	return r.dir
}

func (r *RuleRecords) pathFor(participantID string) string {
	return filepath.Join(r.dir, "participant_"+participantID+".yaml")
}

// Load reads a participant's rule record. Returns ErrNotFound when no
// record exists.
func (r *RuleRecords) Load(participantID string) (*rule.State, error) {
	data, err := os.ReadFile(r.pathFor(participantID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("rule record for participant %s: %w", participantID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read rule record: %w", err)
	}

	var st rule.State
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("decode rule record for participant %s: %w", participantID, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("rule record for participant %s is corrupt: %w", participantID, err)
	}
	return &st, nil
}

// Save persists a rule record. The write is create-only (O_EXCL): if a
// record already exists, Save succeeds when the stored rule is equal to
// the given one and fails with AlreadyExistsError otherwise. The record
// is written to a temp file and renamed so readers never see a partial
// document.
func (r *RuleRecords) Save(st *rule.State) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid rule record: %w", err)
	}

	path := r.pathFor(st.ParticipantID)
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode rule record: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".participant_"+st.ParticipantID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}

	// Claim the final path without clobbering an existing record.
	err = os.Link(tmpName, path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("save rule record: %w", err)
	}

	// A record exists. Equal content means an idempotent replay.
	existing, loadErr := r.Load(st.ParticipantID)
	if loadErr != nil {
		return fmt.Errorf("save rule record: existing record unreadable: %w", loadErr)
	}
	if existing.Equal(st) {
		return nil
	}
	return &AlreadyExistsError{ParticipantID: st.ParticipantID, Path: path}
}

// LoadOrCreate returns the stored record if one exists, otherwise
// generates a fresh one via generate and persists it. Concurrent
// first-time callers converge on a single stored record: the loser of
// the create race reloads the winner's.
func (r *RuleRecords) LoadOrCreate(participantID string, generate func() (*rule.State, error)) (*rule.State, error) {
	st, err := r.Load(participantID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	st, err = generate()
	if err != nil {
		return nil, err
	}
	if st.ParticipantID != participantID {
		return nil, fmt.Errorf("generated record is for participant %s, want %s", st.ParticipantID, participantID)
	}

	saveErr := r.Save(st)
	var existsErr *AlreadyExistsError
	if errors.As(saveErr, &existsErr) {
		// Lost a create race against a differing record; the stored one wins.
		return r.Load(participantID)
	}
	if saveErr != nil {
		return nil, saveErr
	}
	return st, nil
}

// List returns the participant IDs with stored records, sorted.
func (r *RuleRecords) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("list rule records: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "participant_") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "participant_"), ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}
