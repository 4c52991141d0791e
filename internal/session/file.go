package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sirupsen/logrus"
)

const sessionFileSuffix = "_session.json"

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// FilePersister stores each session as a JSON file in a directory.
type FilePersister struct {
	dir string
}

func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("error creating session dir: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

func (p *FilePersister) path(key string) string {
	return filepath.Join(p.dir, unsafeFileChars.ReplaceAllString(key, "_")+sessionFileSuffix)
}

func (p *FilePersister) Save(_ context.Context, state SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}
	file := p.path(state.Key)
	logrus.Debugf("Writing %d cookies for %s to %s", len(state.Cookies), state.Key, file)
	if err := os.WriteFile(file, data, 0600); err != nil {
		return fmt.Errorf("error saving session: %w", err)
	}
	return nil
}

func (p *FilePersister) LoadAll(_ context.Context) ([]SessionState, error) {
	files, err := filepath.Glob(filepath.Join(p.dir, "*"+sessionFileSuffix))
	if err != nil {
		return nil, err
	}
	states := make([]SessionState, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("error reading session file: %w", err)
		}
		var st SessionState
		if err := json.Unmarshal(data, &st); err != nil {
			logrus.WithError(err).Warnf("Skipping unreadable session file %s", f)
			continue
		}
		states = append(states, st)
	}
	return states, nil
}

func (p *FilePersister) Delete(_ context.Context, key string) error {
	if err := os.Remove(p.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error deleting session: %w", err)
	}
	return nil
}
