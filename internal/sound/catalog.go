package sound

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rampart-project/rampart/internal/fetch"
	"github.com/rampart-project/rampart/internal/protocol"
)

// ClipExt is the extension of stored clips.
const ClipExt = ".mp3"

// Entry is one stored clip.
type Entry struct {
	Name  string    `json:"name"`
	Size  int64     `json:"size"`
	Added time.Time `json:"added"`
}

// Catalog maps owner GUIDs to directories of clips under a root. Nothing is
// cached; every call reads the filesystem.
type Catalog struct {
	root string
}

// NewCatalog creates a catalog rooted at root.
func NewCatalog(root string) *Catalog {
	return &Catalog{root: root}
}

// Root returns the storage root.
func (c *Catalog) Root() string {
	return c.root
}

// ownerDir returns the namespace directory for guid. GUIDs are restricted to
// letters and digits so they cannot escape the root.
func (c *Catalog) ownerDir(guid string) (string, error) {
	if guid == "" {
		return "", newError(ErrValidation, "Missing player id")
	}
	for _, r := range guid {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", newError(ErrValidation, "Invalid player id")
		}
	}
	return filepath.Join(c.root, protocol.NormalizeGUID(guid)), nil
}

// Path returns the file path of a validated clip name.
func (c *Catalog) Path(guid, name string) (string, error) {
	dir, err := c.ownerDir(guid)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+ClipExt), nil
}

// List returns the owner's clips sorted by name. Files whose name is not
// a valid clip name are ignored.
func (c *Catalog) List(guid string) ([]Entry, error) {
	dir, err := c.ownerDir(guid)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ClipExt) {
			continue
		}
		base := strings.TrimSuffix(name, ClipExt)
		if folded, err := ValidateName(base); err != nil || folded != base {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:  base,
			Size:  info.Size(),
			Added: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Count returns how many clips the owner has.
func (c *Catalog) Count(guid string) (int, error) {
	entries, err := c.List(guid)
	return len(entries), err
}

// Exists reports whether the owner has a clip called name.
func (c *Catalog) Exists(guid, name string) bool {
	path, err := c.Path(guid, name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes a clip.
func (c *Catalog) Delete(guid, name string) error {
	path, err := c.Path(guid, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(ErrNotFound, "You have no sound called '%s'", name)
		}
		return fmt.Errorf("failed to delete clip: %w", err)
	}
	return nil
}

// Rename moves a clip to a new name within the owner's namespace.
func (c *Catalog) Rename(guid, oldName, newName string) error {
	if !c.Exists(guid, oldName) {
		return newError(ErrNotFound, "You have no sound called '%s'", oldName)
	}
	if c.Exists(guid, newName) {
		return newError(ErrValidation, "You already have a sound called '%s'", newName)
	}
	from, _ := c.Path(guid, oldName)
	to, err := c.Path(guid, newName)
	if err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to rename clip: %w", err)
	}
	return nil
}

// Copy duplicates a clip into another owner's namespace.
func (c *Catalog) Copy(srcGUID, name, dstGUID, alias string) error {
	src, err := c.Path(srcGUID, name)
	if err != nil {
		return err
	}
	dst, err := c.Path(dstGUID, alias)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(ErrNotFound, "The shared sound no longer exists")
		}
		return fmt.Errorf("failed to open clip: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create owner directory: %w", err)
	}

	tmp := dst + fetch.PartSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create clip: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to copy clip: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write clip: %w", err)
	}
	return os.Rename(tmp, dst)
}

// Usage summarizes the whole store.
type Usage struct {
	Owners int   `json:"owners"`
	Clips  int   `json:"clips"`
	Bytes  int64 `json:"bytes"`
}

// Usage walks the root and totals clips.
func (c *Catalog) Usage() (Usage, error) {
	var u Usage
	owners, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return u, nil
	}
	if err != nil {
		return u, err
	}
	for _, o := range owners {
		if !o.IsDir() {
			continue
		}
		entries, err := c.List(o.Name())
		if err != nil || len(entries) == 0 {
			continue
		}
		u.Owners++
		for _, e := range entries {
			u.Clips++
			u.Bytes += e.Size
		}
	}
	return u, nil
}

// CleanPartials removes unfinished downloads older than maxAge. skip holds
// paths still being written.
func (c *Catalog) CleanPartials(maxAge time.Duration, now time.Time, skip map[string]bool) (int, error) {
	removed := 0
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, fetch.PartSuffix) || skip[path] {
			return nil
		}
		info, err := d.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			return nil
		}
		if os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	return removed, err
}
