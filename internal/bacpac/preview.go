package bacpac

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/dustin/go-humanize"
)

// ErrNoModel is returned for archives without a model.xml entry.
var ErrNoModel = errors.New("the bacpac does not contain a model.xml file")

// Summary describes a bacpac archive.
type Summary struct {
	Path         string `json:"path"`
	FileName     string `json:"file_name"`
	DatabaseName string `json:"database_name"`
	Size         int64  `json:"size_bytes"`
	Tables       int    `json:"tables"`
	Views        int    `json:"views"`
	Procedures   int    `json:"procedures"`
}

// HumanSize renders Size in IEC units, e.g. "1.5 MiB".
func (s Summary) HumanSize() string {
	if s.Size < 0 {
		return humanize.IBytes(0)
	}
	return humanize.IBytes(uint64(s.Size))
}

// Preview opens the archive at path and summarizes its model. The database
// name comes from the model's SqlDatabase element, then from origin.xml, then
// from the file name.
func Preview(ctx context.Context, path string) (Summary, error) {
	full, err := ResolveImportPath(path)
	if err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	archive, err := zip.OpenReader(full)
	if err != nil {
		return Summary{}, fmt.Errorf("open bacpac: %w", err)
	}
	defer archive.Close()

	modelEntry := findEntry(archive.File, "model.xml")
	if modelEntry == nil {
		return Summary{}, ErrNoModel
	}
	model, err := parseEntry(modelEntry)
	if err != nil {
		return Summary{}, fmt.Errorf("parse model.xml: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Path:     full,
		FileName: filepath.Base(full),
	}
	var database *xmlquery.Node
	for _, el := range modelElements(model) {
		typ := strings.ToLower(attr(el, "Type"))
		if strings.Contains(typ, "sqltable") {
			summary.Tables++
		}
		if strings.Contains(typ, "sqlview") {
			summary.Views++
		}
		if strings.Contains(typ, "sqlprocedure") {
			summary.Procedures++
		}
		if database == nil && strings.Contains(typ, "sqldatabase") {
			database = el
		}
	}
	if database != nil {
		summary.DatabaseName = unbracket(attr(database, "Name"))
	}

	if summary.DatabaseName == "" {
		if origin := findEntry(archive.File, "origin.xml"); origin != nil {
			doc, err := parseEntry(origin)
			if err != nil {
				return Summary{}, fmt.Errorf("parse origin.xml: %w", err)
			}
			summary.DatabaseName = originName(doc)
		}
	}
	if summary.DatabaseName == "" {
		summary.DatabaseName = strings.TrimSuffix(summary.FileName, filepath.Ext(summary.FileName))
	}

	if info, err := os.Stat(full); err == nil {
		summary.Size = info.Size()
	}
	return summary, nil
}

func findEntry(files []*zip.File, suffix string) *zip.File {
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f.Name), suffix) {
			return f
		}
	}
	return nil
}

func parseEntry(f *zip.File) (*xmlquery.Node, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return xmlquery.Parse(io.Reader(rc))
}

func modelElements(doc *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for _, n := range xmlquery.Find(doc, "//*") {
		if strings.EqualFold(n.Data, "Element") {
			out = append(out, n)
		}
	}
	return out
}

func originName(doc *xmlquery.Node) string {
	for _, n := range xmlquery.Find(doc, "//*") {
		if !strings.EqualFold(n.Data, "Name") {
			continue
		}
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			return text
		}
	}
	return ""
}

func attr(n *xmlquery.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

func unbracket(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && name[0] == '[' && name[len(name)-1] == ']' {
		return name[1 : len(name)-1]
	}
	return name
}
