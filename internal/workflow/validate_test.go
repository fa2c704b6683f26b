package workflow

import (
	"testing"
)

func graphDef(nodes []Node, edges []Edge, startID string) *Definition {
	return &Definition{Version: DefinitionVersion, StartNodeID: startID, Nodes: nodes, Edges: edges}
}

func hasIssue(issues []Issue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// TestValidateDefinitionValid 合法链式图应通过校验
func TestValidateDefinitionValid(t *testing.T) {
	def := graphDef(
		[]Node{
			{ID: "start", NodeType: NodeStart},
			{ID: "a1", NodeType: NodeApproval, ApproverType: ApproverUser, ApproverUserIDs: []uint{1}},
			{ID: "end", NodeType: NodeEnd},
		},
		[]Edge{
			{ID: "e1", Source: "start", Target: "a1", Priority: 1},
			{ID: "e2", Source: "a1", Target: "end", Priority: 2},
		},
		"start",
	)
	result := ValidateDefinition(def)
	if !result.Valid {
		t.Fatalf("合法图校验失败: %+v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("不应有警告: %+v", result.Warnings)
	}
}

// TestValidateDefinitionErrors 逐项触发校验错误码
func TestValidateDefinitionErrors(t *testing.T) {
	tests := []struct {
		name     string
		def      *Definition
		wantCode string
	}{
		{
			"nil 定义", nil, IssueInvalidDefinition,
		},
		{
			"start_node_id 指向错误",
			graphDef(
				[]Node{{ID: "start", NodeType: NodeStart}, {ID: "end", NodeType: NodeEnd}},
				[]Edge{{ID: "e1", Source: "start", Target: "end", Priority: 1}},
				"end",
			),
			IssueInvalidStartNode,
		},
		{
			"无结束节点",
			graphDef(
				[]Node{{ID: "start", NodeType: NodeStart}, {ID: "a1", NodeType: NodeApproval}},
				[]Edge{{ID: "e1", Source: "start", Target: "a1", Priority: 1}},
				"start",
			),
			IssueMissingEndNode,
		},
		{
			"开始节点有入线",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "a1", NodeType: NodeApproval},
					{ID: "end", NodeType: NodeEnd},
				},
				[]Edge{
					{ID: "e1", Source: "start", Target: "a1", Priority: 1},
					{ID: "e2", Source: "a1", Target: "start", Priority: 2},
					{ID: "e3", Source: "a1", Target: "end", Priority: 3},
				},
				"start",
			),
			IssueStartNodeHasIncoming,
		},
		{
			"结束节点有出线",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "end", NodeType: NodeEnd},
					{ID: "a1", NodeType: NodeApproval},
				},
				[]Edge{
					{ID: "e1", Source: "start", Target: "end", Priority: 1},
					{ID: "e2", Source: "end", Target: "a1", Priority: 2},
					{ID: "e3", Source: "a1", Target: "end", Priority: 3},
				},
				"start",
			),
			IssueEndNodeHasOutgoing,
		},
		{
			"节点缺出线",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "a1", NodeType: NodeApproval},
					{ID: "end", NodeType: NodeEnd},
				},
				[]Edge{{ID: "e1", Source: "start", Target: "a1", Priority: 1}},
				"start",
			),
			IssueNodeMissingOutgoing,
		},
		{
			"条件节点分支不足",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "c1", NodeType: NodeCondition},
					{ID: "end", NodeType: NodeEnd},
				},
				[]Edge{
					{ID: "e1", Source: "start", Target: "c1", Priority: 1},
					{ID: "e2", Source: "c1", Target: "end", Priority: 2},
				},
				"start",
			),
			IssueConditionRequiresBranch,
		},
		{
			"并行分支不足",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "p1", NodeType: NodeParallelStart},
					{ID: "end", NodeType: NodeEnd},
				},
				[]Edge{
					{ID: "e1", Source: "start", Target: "p1", Priority: 1},
					{ID: "e2", Source: "p1", Target: "end", Priority: 2},
				},
				"start",
			),
			IssueParallelStartBranches,
		},
		{
			"汇聚入线不足",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "j1", NodeType: NodeParallelJoin},
					{ID: "end", NodeType: NodeEnd},
				},
				[]Edge{
					{ID: "e1", Source: "start", Target: "j1", Priority: 1},
					{ID: "e2", Source: "j1", Target: "end", Priority: 2},
				},
				"start",
			),
			IssueParallelJoinIncoming,
		},
		{
			"子流程缺模板",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "sp", NodeType: NodeSubprocess},
					{ID: "end", NodeType: NodeEnd},
				},
				[]Edge{
					{ID: "e1", Source: "start", Target: "sp", Priority: 1},
					{ID: "e2", Source: "sp", Target: "end", Priority: 2},
				},
				"start",
			),
			IssueInvalidSubprocess,
		},
		{
			"不可达节点",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "a1", NodeType: NodeApproval},
					{ID: "orphan", NodeType: NodeApproval},
					{ID: "end", NodeType: NodeEnd},
				},
				[]Edge{
					{ID: "e1", Source: "start", Target: "a1", Priority: 1},
					{ID: "e2", Source: "a1", Target: "end", Priority: 2},
					{ID: "e3", Source: "orphan", Target: "end", Priority: 3},
				},
				"start",
			),
			IssueUnreachableNodes,
		},
		{
			"图含环路",
			graphDef(
				[]Node{
					{ID: "start", NodeType: NodeStart},
					{ID: "a1", NodeType: NodeApproval},
					{ID: "a2", NodeType: NodeApproval},
					{ID: "end", NodeType: NodeEnd},
				},
				[]Edge{
					{ID: "e1", Source: "start", Target: "a1", Priority: 1},
					{ID: "e2", Source: "a1", Target: "a2", Priority: 2},
					{ID: "e3", Source: "a2", Target: "a1", Priority: 3},
					{ID: "e4", Source: "a2", Target: "end", Priority: 4},
				},
				"start",
			),
			IssueGraphHasCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateDefinition(tt.def)
			if result.Valid {
				t.Fatalf("期望校验失败 (%s)", tt.wantCode)
			}
			if !hasIssue(result.Errors, tt.wantCode) {
				t.Errorf("缺少错误码 %s, 实际 %+v", tt.wantCode, result.Errors)
			}
		})
	}
}

// TestValidateDefinitionConditionBranches 条件节点默认分支约束
func TestValidateDefinitionConditionBranches(t *testing.T) {
	cond := &Condition{Logic: "and", Rules: []ConditionRule{{Field: "amount", Operator: "gt", Value: 100}}}

	// 两条分支都带条件且无默认分支
	def := graphDef(
		[]Node{
			{ID: "start", NodeType: NodeStart},
			{ID: "c1", NodeType: NodeCondition},
			{ID: "a1", NodeType: NodeApproval},
			{ID: "end", NodeType: NodeEnd},
		},
		[]Edge{
			{ID: "e1", Source: "start", Target: "c1", Priority: 1},
			{ID: "e2", Source: "c1", Target: "a1", Priority: 1, Condition: cond},
			{ID: "e3", Source: "c1", Target: "end", Priority: 2, Condition: cond},
			{ID: "e4", Source: "a1", Target: "end", Priority: 3},
		},
		"start",
	)
	result := ValidateDefinition(def)
	if !hasIssue(result.Errors, IssueConditionMissingDefault) {
		t.Errorf("应报缺默认分支, 实际 %+v", result.Errors)
	}

	// 两条默认分支
	def.Edges[1].Condition = nil
	def.Edges[2].Condition = nil
	result = ValidateDefinition(def)
	if !hasIssue(result.Errors, IssueConditionMultipleDefault) {
		t.Errorf("应报多条默认分支, 实际 %+v", result.Errors)
	}

	// 一条条件一条默认：合法
	def.Edges[1].Condition = cond
	result = ValidateDefinition(def)
	if !result.Valid {
		t.Errorf("条件+默认分支应合法: %+v", result.Errors)
	}
}

// TestValidateDefinitionWarnings 测试警告码
func TestValidateDefinitionWarnings(t *testing.T) {
	cond := &Condition{Logic: "and", Rules: []ConditionRule{{Field: "x", Operator: "not_empty"}}}
	def := graphDef(
		[]Node{
			{ID: "start", NodeType: NodeStart},
			{ID: "a1", NodeType: NodeApproval},
			{ID: "a2", NodeType: NodeApproval},
			{ID: "end", NodeType: NodeEnd},
		},
		[]Edge{
			{ID: "e1", Source: "start", Target: "a1", Priority: 1},
			{ID: "e2", Source: "a1", Target: "a2", Priority: 1, Condition: cond, IsDefault: true},
			{ID: "e3", Source: "a1", Target: "end", Priority: 2},
			{ID: "e4", Source: "a2", Target: "end", Priority: 3},
		},
		"start",
	)
	result := ValidateDefinition(def)
	if !result.Valid {
		t.Fatalf("图应合法: %+v", result.Errors)
	}
	if !hasIssue(result.Warnings, WarnNonConditionMultiBranch) {
		t.Errorf("应有非条件多分支警告: %+v", result.Warnings)
	}
	if !hasIssue(result.Warnings, WarnDefaultBranchWithCondtion) {
		t.Errorf("应有默认分支带条件警告: %+v", result.Warnings)
	}
}

// TestValidateDefinitionDeadEnd 死路节点检测
func TestValidateDefinitionDeadEnd(t *testing.T) {
	// a2 只能走向 a3, a3 没有出线也不是结束节点
	def := graphDef(
		[]Node{
			{ID: "start", NodeType: NodeStart},
			{ID: "a1", NodeType: NodeApproval},
			{ID: "a2", NodeType: NodeApproval},
			{ID: "end", NodeType: NodeEnd},
		},
		[]Edge{
			{ID: "e1", Source: "start", Target: "a1", Priority: 1},
			{ID: "e2", Source: "a1", Target: "end", Priority: 1},
			{ID: "e3", Source: "a1", Target: "a2", Priority: 2},
		},
		"start",
	)
	result := ValidateDefinition(def)
	if !hasIssue(result.Errors, IssueNodeMissingOutgoing) {
		t.Errorf("a2 缺出线应报错: %+v", result.Errors)
	}
	if !hasIssue(result.Errors, IssueDeadEndNodes) {
		t.Errorf("a2 是死路节点: %+v", result.Errors)
	}
}
