package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kanekikun07/shiny-bassoon/internal/upstream"
)

// ErrSheetNotFound is returned by ReadSheet before the sheet has been written.
var ErrSheetNotFound = errors.New("credential sheet not found")

// SheetReader provides the current hand-out sheet contents.
type SheetReader interface {
	ReadSheet() ([]byte, error)
}

// Sheet renders one line per credential: the user's bound upstream URL with
// the generated username and password filled in.
func Sheet(t *Table, upstreams []upstream.Proxy) []string {
	lines := make([]string, 0, t.Len())
	for _, c := range t.Credentials() {
		if c.UpstreamIndex < 0 || c.UpstreamIndex >= len(upstreams) {
			continue
		}
		u := upstreams[c.UpstreamIndex].URL()
		u.User = url.UserPassword(c.Username, c.Password)
		lines = append(lines, u.String())
	}
	return lines
}

// FileSheet stores the hand-out sheet in a file.
type FileSheet struct {
	Path string
}

// Write replaces the sheet file with lines. The file is written to a
// temporary name and renamed so readers never observe a partial sheet.
func (s FileSheet) Write(lines []string) error {
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("write sheet: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.Join(lines, "\n")); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write sheet: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write sheet: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil { //nolint:gosec // Sheet is meant to be handed out.
		return fmt.Errorf("write sheet: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("write sheet: %w", err)
	}
	return nil
}

// ReadSheet returns the sheet file contents, or ErrSheetNotFound.
func (s FileSheet) ReadSheet() ([]byte, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSheetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	return b, nil
}

// Remove deletes the sheet file. A missing file is not an error.
func (s FileSheet) Remove() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove sheet: %w", err)
	}
	return nil
}
