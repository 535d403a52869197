// Package registry reads flat-file network registry objects, one
// object per file, laid out as data/<type>/<name> under a common root
// (the dn42 registry format).
//
// Objects are sequences of "field: value" lines. A line without a
// colon-terminated field name is a continuation and appends to the
// previous field; repeated fields accumulate the same way.
package registry

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Object is one registry record.
type Object struct {
	// Name is the object's file name (e.g. "AS4242420101" or
	// "172.20.0.0_14").
	Name string

	fields map[string]string
}

// Get returns the value of a field, with multi-line and repeated
// values joined by newlines. Missing fields return "".
func (o *Object) Get(key string) string {
	return o.fields[key]
}

// Parse reads one registry object.
func Parse(name string, r io.Reader) (*Object, error) {
	obj := &Object{
		Name:   name,
		fields: make(map[string]string),
	}

	var lastField string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if key, rest, ok := fieldStart(line); ok {
			lastField = key
			appendField(obj.fields, key, strings.TrimSpace(rest))
			continue
		}

		// Continuation of the previous field.
		if lastField == "" {
			continue
		}
		if value := strings.TrimSpace(line); value != "" {
			appendField(obj.fields, lastField, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return obj, nil
}

func fieldStart(line string) (key, rest string, ok bool) {
	key, rest, found := strings.Cut(line, ":")
	if !found || key == "" {
		return "", "", false
	}
	for _, c := range key {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return "", "", false
		}
	}
	return key, rest, true
}

func appendField(fields map[string]string, key, value string) {
	if prev, seen := fields[key]; seen {
		fields[key] = prev + "\n" + value
		return
	}
	fields[key] = value
}

// Registry reads objects below a registry checkout root.
type Registry struct {
	Root string
}

func (r *Registry) objectPath(rtype, name string) string {
	return filepath.Join(r.Root, "data", rtype, name)
}

// Object reads a single registry object by type and name.
func (r *Registry) Object(rtype, name string) (*Object, error) {
	f, err := os.Open(r.objectPath(rtype, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(name, f)
}

// EachObject invokes fn on every object of a resource type, in file
// name order. Unreadable objects are logged and skipped; an unreadable
// resource directory is an error.
func (r *Registry) EachObject(rtype string, fn func(*Object) error) error {
	dir := filepath.Join(r.Root, "data", rtype)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading registry %s: %w", rtype, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		obj, err := r.Object(rtype, entry.Name())
		if err != nil {
			log.Printf("warning: skipping registry object %s/%s: %v", rtype, entry.Name(), err)
			continue
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

// ASName returns the registered name of an AS, or "" when the registry
// has no aut-num object for it.
func (r *Registry) ASName(asn uint32) string {
	obj, err := r.Object("aut-num", fmt.Sprintf("AS%d", asn))
	if err != nil {
		return ""
	}
	return obj.Get("as-name")
}
