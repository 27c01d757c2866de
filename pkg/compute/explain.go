package compute

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"
)

// Explain renders the pipeline shape with one node per depth.
func Explain(params *LaunchParams) string {
	tree := treeprint.New()
	tree.SetValue("pipeline")

	branch := tree.AddBranch("scan (depth 0)")
	for d, stage := range params.Stages {
		label := fmt.Sprintf("%s %s (depth %d)", stage.Strategy, stage.Rel.Name(), d+1)
		branch = branch.AddBranch(label)
		var conds []string
		for _, cond := range stage.Quals.OnConds {
			conds = append(conds, cond.String())
		}
		branch.AddNode("on: " + strings.Join(conds, " and "))
		if len(stage.Quals.MatchConds) > 0 {
			conds = conds[:0]
			for _, cond := range stage.Quals.MatchConds {
				conds = append(conds, cond.String())
			}
			branch.AddNode("match: " + strings.Join(conds, " and "))
		}
		if stage.LeftOuter {
			branch.AddNode("left outer")
		}
		if stage.RightOuter {
			branch.AddNode("right outer")
		}
	}

	if len(params.Aggs) > 0 {
		term := branch.AddBranch(fmt.Sprintf("preagg (depth %d)", len(params.Stages)+1))
		for _, key := range params.GroupBy {
			term.AddNode("key: " + key.String())
		}
		for _, spec := range params.Aggs {
			if spec.Arg != nil {
				term.AddNode(fmt.Sprintf("%s(%s)", spec.Name, spec.Arg))
			} else {
				term.AddNode(spec.Name + "(*)")
			}
		}
	} else {
		term := branch.AddBranch(fmt.Sprintf("project (depth %d)", len(params.Stages)+1))
		for _, e := range params.Proj.Exprs() {
			term.AddNode(e.String())
		}
	}
	return tree.String()
}
