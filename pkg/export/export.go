// Package export renders scan sessions for use outside the client.
//
// CSV output is meant for spreadsheets and decoder documentation;
// JSON output is for other tools. Both orderings are by CV number so
// diffs between two exports of the same decoder are stable.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/cvlink-project/cvlink-go/pkg/meta"
	"github.com/cvlink-project/cvlink-go/pkg/persistence"
)

// Row is one exported CV.
type Row struct {
	CV    int    `json:"cv"`
	Value byte   `json:"value"`
	Name  string `json:"name,omitempty"`
}

// Rows flattens a session into sorted export rows, annotated from the
// catalog when one is given.
func Rows(session *persistence.Session, catalog *meta.Catalog) []Row {
	values := session.CVValues()
	cvs := make([]int, 0, len(values))
	for cv := range values {
		cvs = append(cvs, cv)
	}
	sort.Ints(cvs)

	rows := make([]Row, 0, len(cvs))
	for _, cv := range cvs {
		row := Row{CV: cv, Value: values[cv]}
		if catalog != nil {
			if info, ok := catalog.Lookup(cv); ok {
				row.Name = info.Name
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes a session as CSV with a header row.
func WriteCSV(w io.Writer, session *persistence.Session, catalog *meta.Catalog) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"cv", "value", "name"}); err != nil {
		return err
	}
	for _, row := range Rows(session, catalog) {
		record := []string{strconv.Itoa(row.CV), strconv.Itoa(int(row.Value)), row.Name}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// JSONDocument is the top-level JSON export shape.
type JSONDocument struct {
	Station     string `json:"station,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	LocoAddress int    `json:"loco_address,omitempty"`
	SavedAt     string `json:"saved_at,omitempty"`
	Rows        []Row  `json:"cvs"`
}

// WriteJSON writes a session as an indented JSON document.
func WriteJSON(w io.Writer, session *persistence.Session, catalog *meta.Catalog) error {
	doc := JSONDocument{
		Station:     session.Station,
		Protocol:    session.Protocol,
		LocoAddress: session.LocoAddress,
		Rows:        Rows(session, catalog),
	}
	if !session.SavedAt.IsZero() {
		doc.SavedAt = session.SavedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteTable writes a human-readable aligned table, using bit-field
// expansion for CVs the catalog can decode.
func WriteTable(w io.Writer, session *persistence.Session, catalog *meta.Catalog) error {
	for _, row := range Rows(session, catalog) {
		name := row.Name
		value := strconv.Itoa(int(row.Value))
		if catalog != nil {
			if name == "" {
				name = catalog.Name(row.CV)
			}
			value = catalog.DescribeValue(row.CV, row.Value)
		}
		if _, err := fmt.Fprintf(w, "%4d  %-28s %s\n", row.CV, name, value); err != nil {
			return err
		}
	}
	return nil
}
