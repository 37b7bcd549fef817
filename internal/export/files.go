// Package export writes the crawled graph out for downstream analysis: plain
// edge and node lists, or a Neo4j-compatible graph database.
package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

// File extensions of the two list formats.
const (
	EdgelistExt = ".edgelist"
	NodelistExt = ".nodelist"
)

// Result describes the files written by Files.
type Result struct {
	EdgelistPath string `json:"edgelist_path"`
	NodelistPath string `json:"nodelist_path"`
	Edges        int    `json:"edges"`
	Nodes        int    `json:"nodes"`
}

// WriteEdgelist writes one "source\ttarget" line per relationship.
func WriteEdgelist(w io.Writer, cur crawler.RelationshipCursor) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for cur.Next() {
		r, err := cur.Relationship()
		if err != nil {
			return n, fmt.Errorf("read relationship: %w", err)
		}
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", r.SourceID, r.TargetID); err != nil {
			return n, fmt.Errorf("write edge: %w", err)
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, fmt.Errorf("iterate relationships: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flush edgelist: %w", err)
	}
	return n, nil
}

// columnBreaks turns separators inside a name into spaces.
var columnBreaks = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// WriteNodelist writes one "id\tfirst\tlast" line per person. Missing names
// are written as empty columns.
func WriteNodelist(w io.Writer, cur crawler.PersonCursor) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for cur.Next() {
		p, err := cur.Person()
		if err != nil {
			return n, fmt.Errorf("read person: %w", err)
		}
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\n",
			p.ID,
			columnBreaks.Replace(crawler.StringValue(p.FirstName)),
			columnBreaks.Replace(crawler.StringValue(p.LastName)),
		); err != nil {
			return n, fmt.Errorf("write node: %w", err)
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, fmt.Errorf("iterate persons: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flush nodelist: %w", err)
	}
	return n, nil
}

// Files writes <dir>/<name>.edgelist and <dir>/<name>.nodelist from store.
// dir is created when missing; name must be a bare file name.
func Files(ctx context.Context, store crawler.Store, dir, name string) (Result, error) {
	if err := validateName(name); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create export directory: %w", err)
	}

	res := Result{
		EdgelistPath: filepath.Join(dir, name+EdgelistExt),
		NodelistPath: filepath.Join(dir, name+NodelistExt),
	}

	rels, err := store.IterateRelationships(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("iterate relationships: %w", err)
	}
	res.Edges, err = writeFile(res.EdgelistPath, func(w io.Writer) (int, error) {
		return WriteEdgelist(w, rels)
	}, rels.Close)
	if err != nil {
		return Result{}, err
	}

	persons, err := store.IteratePersons(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("iterate persons: %w", err)
	}
	res.Nodes, err = writeFile(res.NodelistPath, func(w io.Writer) (int, error) {
		return WriteNodelist(w, persons)
	}, persons.Close)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("export name is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("export name %q must be a bare file name", name)
	}
	return nil
}

// writeFile writes through a temporary file and renames it into place so
// readers never observe a partial list.
func writeFile(path string, write func(io.Writer) (int, error), closeCursor func() error) (n int, err error) {
	defer func() {
		if cerr := closeCursor(); cerr != nil && err == nil {
			err = fmt.Errorf("close cursor: %w", cerr)
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err = write(tmp)
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("rename %s: %w", path, err)
	}
	return n, nil
}
