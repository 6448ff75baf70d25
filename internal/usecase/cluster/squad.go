package cluster

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// SquadRow is one row of a SQuAD-v2 style parquet file.
type SquadRow struct {
	ID          string
	Title       string
	Context     string
	Question    string
	AnswerTexts []string
}

// squadColumns holds leaf column indexes; -1 means absent.
type squadColumns struct {
	id, title, context, question, answerText int
}

func resolveSquadColumns(pf *parquet.File) (squadColumns, error) {
	cols := squadColumns{id: -1, title: -1, context: -1, question: -1, answerText: -1}
	for i, path := range pf.Schema().Columns() {
		if len(path) == 0 {
			continue
		}
		switch path[0] {
		case "id":
			cols.id = i
		case "title":
			cols.title = i
		case "context":
			cols.context = i
		case "question":
			cols.question = i
		case "answers":
			if len(path) > 1 && path[1] == "text" {
				cols.answerText = i
			}
		}
	}
	if cols.id < 0 {
		return cols, errors.New(`missing column "id"`)
	}
	if cols.question < 0 {
		return cols, errors.New(`missing column "question"`)
	}
	return cols, nil
}

// ReadSquad reads every row of a SQuAD parquet file. title, context and
// answers are optional; id and question are required.
func ReadSquad(path string) ([]SquadRow, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}

	cols, err := resolveSquadColumns(pf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]SquadRow, 0, pf.NumRows())
	for _, rg := range pf.RowGroups() {
		rows := parquet.NewRowGroupReader(rg)
		buf := make([]parquet.Row, 512)
		for {
			n, readErr := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				out = append(out, rowToSquad(buf[i], cols))
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return nil, fmt.Errorf("read rows of %s: %w", path, readErr)
			}
		}
	}
	return out, nil
}

func rowToSquad(row parquet.Row, cols squadColumns) SquadRow {
	var r SquadRow
	for _, v := range row {
		if v.IsNull() {
			continue
		}
		switch v.Column() {
		case cols.id:
			r.ID = v.String()
		case cols.title:
			r.Title = v.String()
		case cols.context:
			r.Context = v.String()
		case cols.question:
			r.Question = v.String()
		case cols.answerText:
			r.AnswerTexts = append(r.AnswerTexts, v.String())
		}
	}
	return r
}
