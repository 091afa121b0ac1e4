package executor_test

import (
	executor "SpaceDB/query_executor"
	codegen "SpaceDB/query_parser/code-generator"
	lex "SpaceDB/query_parser/lexer"
	"SpaceDB/query_parser/parser"
	storageengine "SpaceDB/storage_engine"
	"SpaceDB/types"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shell struct {
	t   *testing.T
	se  *storageengine.StorageEngine
	vm  *executor.VM
	out *bytes.Buffer
}

func newShell(t *testing.T, dir string) *shell {
	t.Helper()
	cfg := storageengine.DefaultConfig(dir)
	cfg.BufferPoolPages = 256
	se, err := storageengine.NewStorageEngine(cfg)
	require.NoError(t, err)
	out := &bytes.Buffer{}
	return &shell{t: t, se: se, vm: executor.NewVM(se, out), out: out}
}

// exec runs one command and returns what it printed.
func (s *shell) exec(input string) (string, error) {
	s.t.Helper()
	s.out.Reset()
	stmt, err := parser.New(lex.New(input)).ParseStatement()
	require.NoError(s.t, err, input)
	instructions, err := codegen.EmitBytecode(stmt)
	require.NoError(s.t, err, input)
	err = s.vm.Execute(context.Background(), instructions)
	return s.out.String(), err
}

func (s *shell) mustExec(input string) string {
	s.t.Helper()
	out, err := s.exec(input)
	require.NoError(s.t, err, input)
	return out
}

func TestShellPoints(t *testing.T) {
	s := newShell(t, t.TempDir())
	defer s.se.Close()

	assert.Contains(t, s.mustExec("CREATE INDEX places USING quad"), "index places created using quad")
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			s.mustExec(fmt.Sprintf("INSERT INTO places POINT(%d, %d) ROW(1, %d, %d)", i, j, i, j))
		}
	}

	out := s.mustExec("SELECT * FROM places WHERE KEY INSIDE BOX(0, 0, 2, 2)")
	assert.Contains(t, out, "(9 rows)")
	assert.Contains(t, out, "(1,1)")

	out = s.mustExec("SELECT * FROM places WHERE KEY LEFT POINT(3, 0) AND KEY ABOVE POINT(0, 7) LIMIT 4")
	assert.Contains(t, out, "(4 rows)")

	out = s.mustExec("SELECT * FROM places WHERE KEY = POINT(4, 5)")
	assert.Contains(t, out, "(1 rows)")
	assert.Contains(t, out, types.RowPointer{FileID: 1, PageNumber: 4, SlotIndex: 5}.String())

	out = s.mustExec("SELECT NEAREST 3 FROM places TO POINT(0.1, 0.1)")
	assert.Contains(t, out, "(3 rows)")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[2], "(0,0)")

	out = s.mustExec("SHOW INDEXES")
	assert.Contains(t, out, "places")
	assert.Contains(t, out, "quad")

	_, err := s.exec("SELECT * FROM places WHERE KEY PREFIX 'a'")
	assert.Error(t, err)
	_, err = s.exec("SELECT * FROM nowhere")
	assert.Error(t, err)
	_, err = s.exec("CREATE INDEX shapes USING rtree")
	assert.ErrorContains(t, err, "kd, quad, radix")
}

func TestShellWordsAndTransactions(t *testing.T) {
	dir := t.TempDir()
	s := newShell(t, dir)

	s.mustExec("CREATE INDEX words USING radix")
	for i, w := range []string{"north", "northeast", "northwest", "south"} {
		s.mustExec(fmt.Sprintf("INSERT INTO words '%s' ROW(2, 0, %d)", w, i))
	}
	s.mustExec("INSERT INTO words NULL ROW(2, 0, 9)")

	out := s.mustExec("SELECT * FROM words WHERE KEY PREFIX 'north'")
	assert.Contains(t, out, "(3 rows)")
	assert.Contains(t, out, `"northwest"`)
	assert.Contains(t, s.mustExec("SELECT * FROM words WHERE KEY IS NULL"), "(1 rows)")
	assert.Contains(t, s.mustExec("SELECT * FROM words WHERE KEY < 'p'"), "(3 rows)")

	// rolled back inserts are hidden at once and removed by vacuum
	s.mustExec("BEGIN")
	assert.True(t, s.vm.InTransaction())
	s.mustExec("INSERT INTO words 'northern' ROW(2, 1, 0)")
	_, err := s.exec("VACUUM")
	assert.Error(t, err)
	s.mustExec("ROLLBACK")
	assert.False(t, s.vm.InTransaction())
	assert.Contains(t, s.mustExec("SELECT * FROM words WHERE KEY PREFIX 'north'"), "(3 rows)")

	out = s.mustExec("VACUUM words")
	assert.Contains(t, out, "words")

	s.mustExec("DELETE ROW(2, 0, 3)")
	assert.Contains(t, s.mustExec("SELECT * FROM words WHERE KEY = 'south'"), "(0 rows)")

	_, err = s.exec("COMMIT")
	assert.Error(t, err)

	// committed work survives a restart
	s.mustExec("BEGIN")
	s.mustExec("INSERT INTO words 'east' ROW(2, 1, 1)")
	s.mustExec("COMMIT")
	assert.Contains(t, s.mustExec("CHECKPOINT"), "checkpoint written")
	assert.Contains(t, s.mustExec("INSPECT words"), "index words")
	require.NoError(t, s.se.Close())

	s = newShell(t, dir)
	defer s.se.Close()
	assert.Contains(t, s.mustExec("SELECT * FROM words WHERE KEY = 'east'"), "(1 rows)")

	s.mustExec("DROP INDEX words")
	assert.Contains(t, s.mustExec("SHOW INDEXES"), "no indexes")
}
