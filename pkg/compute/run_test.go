package compute

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanedb/pipejoin/pkg/util"
)

func Test_parseAggSpec(t *testing.T) {
	spec, err := parseAggSpec("count")
	require.NoError(t, err)
	assert.Equal(t, KAGG_NROWS_ANY, spec.Action)

	spec, err = parseAggSpec("sum(3)")
	require.NoError(t, err)
	assert.Equal(t, KAGG_PSUM, spec.Action)
	assert.Equal(t, 3, spec.Arg.ColIdx)

	spec, err = parseAggSpec("corr(1,2)")
	require.NoError(t, err)
	assert.Equal(t, KAGG_PCOVAR, spec.Action)
	assert.Equal(t, 2, spec.Arg2.ColIdx)

	_, err = parseAggSpec("sum(")
	assert.Error(t, err)
	_, err = parseAggSpec("frobnicate(1)")
	assert.Error(t, err)
}

func Test_runFromConfig(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "orders.csv")
	innerPath := filepath.Join(dir, "customers.csv")
	resultPath := filepath.Join(dir, "result.tsv")

	// orders: id, customer id
	require.NoError(t, os.WriteFile(srcPath,
		[]byte("100,1\n101,2\n102,1\n103,9\n"), 0644))
	// customers: id, name
	require.NoError(t, os.WriteFile(innerPath,
		[]byte("1,alice\n2,bob\n3,carol\n"), 0644))

	cfg := &util.Config{
		Source: util.SourceConfig{Path: srcPath, Format: "csv"},
		Joins: []util.JoinStageConfig{
			{Strategy: "hash", Path: innerPath, Format: "csv", OuterCol: 1, InnerCol: 0, LeftOuter: true},
		},
		Projs:  []int{0, 3},
		Result: util.ResultConfig{Path: resultPath, NeedHeadLine: true},
		Exec:   util.ExecConfig{LaneCount: 2, GroupCount: 2},
	}
	require.NoError(t, Run(cfg))

	data, err := os.ReadFile(resultPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Equal(t, 5, len(lines))
	assert.Equal(t, "col0\tcol3", lines[0])

	body := lines[1:]
	assert.ElementsMatch(t, []string{
		"100\talice", "101\tbob", "102\talice", "103\tNULL",
	}, body)
}
