package workflow

import (
	"testing"
)

// TestStepsToGraph 测试旧版线性步骤编译为图
func TestStepsToGraph(t *testing.T) {
	raw := []any{
		map[string]any{"name": "直属审批", "step_type": "approval", "approver_type": "user", "approver_user_ids": []any{3, 5, 3}},
		map[string]any{"name": "财务抄送", "step_type": "cc", "approver_type": "user", "approver_user_ids": []any{9}},
	}

	def, err := NormalizeDefinition(raw)
	if err != nil {
		t.Fatalf("NormalizeDefinition 返回错误: %v", err)
	}
	if def.Version != DefinitionVersion {
		t.Errorf("version = %s", def.Version)
	}
	if len(def.Nodes) != 4 { // start + 2 步骤 + end
		t.Fatalf("节点数 = %d, 期望 4", len(def.Nodes))
	}
	if len(def.Edges) != 3 {
		t.Fatalf("连线数 = %d, 期望 3", len(def.Edges))
	}
	if def.StartNodeID != "start" {
		t.Errorf("start_node_id = %s", def.StartNodeID)
	}
	for i, edge := range def.Edges {
		if edge.Priority != i+1 {
			t.Errorf("边 %s 优先级 = %d, 期望 %d", edge.ID, edge.Priority, i+1)
		}
	}

	step1 := def.NodeByID("step_1")
	if step1 == nil || step1.NodeType != NodeApproval {
		t.Fatalf("step_1 节点缺失或类型错误")
	}
	if len(step1.ApproverUserIDs) != 2 {
		t.Errorf("审批人去重失败: %v", step1.ApproverUserIDs)
	}
	if !step1.SelfApproveAllowed() {
		t.Errorf("自审批默认应允许")
	}
}

// TestNormalizeStepsErrors 测试步骤规范化错误码
func TestNormalizeStepsErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		wantCode string
	}{
		{"非数组", map[string]any{}, CodeInvalidSteps},
		{"空数组", []any{}, CodeInvalidSteps},
		{"缺名称", []any{map[string]any{"step_type": "approval", "approver_type": "user", "approver_user_ids": []any{1}}}, CodeInvalidStepName},
		{"类型非法", []any{map[string]any{"name": "x", "step_type": "magic"}}, CodeInvalidStepType},
		{"user 无审批人", []any{map[string]any{"name": "x", "approver_type": "user"}}, CodeMissingStepUserApprovers},
		{"role 无角色", []any{map[string]any{"name": "x", "approver_type": "role"}}, CodeMissingStepRoleApprovers},
		{"applicant_select 缺字段", []any{map[string]any{"name": "x", "approver_type": "applicant_select"}}, CodeInvalidApplicantSelect},
		{"previous_handler 偏移非法", []any{map[string]any{"name": "x", "approver_type": "previous_handler", "previous_step_offset": 0}}, CodeInvalidPreviousHandler},
		{"子流程缺模板", []any{map[string]any{"name": "x", "step_type": "subprocess"}}, CodeInvalidSubprocessTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeSteps(tt.raw)
			if err == nil {
				t.Fatalf("期望错误 %s, 实际成功", tt.wantCode)
			}
			if got := ErrorCode(err); got != tt.wantCode {
				t.Errorf("错误码 = %s, 期望 %s", got, tt.wantCode)
			}
		})
	}
}

// TestNormalizeStepsApprovalType 测试 approval_type 对 approval_mode 的覆盖
func TestNormalizeStepsApprovalType(t *testing.T) {
	steps, err := NormalizeSteps([]any{
		map[string]any{
			"name": "会签", "approver_type": "user", "approver_user_ids": []any{1, 2},
			"approval_type": "all", "approval_mode": "any",
		},
		map[string]any{
			"name": "依次审批", "approver_type": "user", "approver_user_ids": []any{1, 2},
			"approval_type": "sequential",
		},
	})
	if err != nil {
		t.Fatalf("NormalizeSteps 返回错误: %v", err)
	}
	if steps[0].ApprovalMode != ApprovalModeAll {
		t.Errorf("approval_type=all 应强制 approval_mode=all, 实际 %s", steps[0].ApprovalMode)
	}
	if steps[1].ApprovalType != ApprovalTypeSequential {
		t.Errorf("approval_type = %s", steps[1].ApprovalType)
	}
	if steps[1].ApprovalMode != ApprovalModeAny {
		t.Errorf("sequential 不覆盖 approval_mode, 实际 %s", steps[1].ApprovalMode)
	}
}

func validGraphInput() map[string]any {
	return map[string]any{
		"start_node_id": "start",
		"nodes": []any{
			map[string]any{"id": "start", "node_type": "start"},
			map[string]any{"id": "a1", "name": "审批", "node_type": "approval", "approver_type": "user", "approver_user_ids": []any{7}},
			map[string]any{"id": "end", "node_type": "end"},
		},
		"edges": []any{
			map[string]any{"source": "start", "target": "a1"},
			map[string]any{"id": "e_done", "source": "a1", "target": "end", "priority": 2},
		},
	}
}

// TestNormalizeGraph 测试图定义规范化
func TestNormalizeGraph(t *testing.T) {
	def, err := NormalizeDefinition(validGraphInput())
	if err != nil {
		t.Fatalf("NormalizeDefinition 返回错误: %v", err)
	}
	if def.StartNodeID != "start" {
		t.Errorf("start_node_id = %s", def.StartNodeID)
	}
	start := def.NodeByID("start")
	if start == nil || start.Name != "开始" {
		t.Errorf("start 节点应有默认名称, 实际 %+v", start)
	}
	if def.Edges[0].ID == "" {
		t.Errorf("缺省边 id 应有回填")
	}
	if def.Edges[0].Priority != 1 {
		t.Errorf("缺省优先级应为序号, 实际 %d", def.Edges[0].Priority)
	}
}

// TestNormalizeGraphErrors 测试图定义错误码
func TestNormalizeGraphErrors(t *testing.T) {
	withNodes := func(nodes []any) map[string]any {
		return map[string]any{"nodes": nodes, "edges": []any{}}
	}

	tests := []struct {
		name     string
		raw      map[string]any
		wantCode string
	}{
		{"空节点", withNodes([]any{}), CodeInvalidDefinitionNodes},
		{"无 edges", map[string]any{"nodes": []any{map[string]any{"id": "start", "node_type": "start"}}}, CodeInvalidDefinitionEdges},
		{"节点 id 非法", withNodes([]any{map[string]any{"id": "has space", "node_type": "start"}}), CodeInvalidDefinitionNodeID},
		{"节点 id 重复", withNodes([]any{
			map[string]any{"id": "n1", "node_type": "start"},
			map[string]any{"id": "n1", "node_type": "end"},
		}), CodeDuplicatedNodeID},
		{"节点类型非法", withNodes([]any{map[string]any{"id": "n1", "node_type": "magic"}}), CodeInvalidDefinitionNodeType},
		{"无开始节点", withNodes([]any{map[string]any{"id": "end", "node_type": "end"}}), CodeInvalidStartNode},
		{"多个开始节点", withNodes([]any{
			map[string]any{"id": "s1", "node_type": "start"},
			map[string]any{"id": "s2", "node_type": "start"},
			map[string]any{"id": "end", "node_type": "end"},
		}), CodeInvalidStartNode},
		{"无结束节点", withNodes([]any{map[string]any{"id": "start", "node_type": "start"}}), CodeMissingEndNode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeGraph(tt.raw)
			if err == nil {
				t.Fatalf("期望错误 %s, 实际成功", tt.wantCode)
			}
			if got := ErrorCode(err); got != tt.wantCode {
				t.Errorf("错误码 = %s, 期望 %s", got, tt.wantCode)
			}
		})
	}

	selfEdge := validGraphInput()
	selfEdge["edges"] = []any{map[string]any{"source": "a1", "target": "a1"}}
	if _, err := NormalizeGraph(selfEdge); ErrorCode(err) != CodeInvalidEdgeTarget {
		t.Errorf("自环边应报 %s, 实际 %v", CodeInvalidEdgeTarget, err)
	}
}

// TestExtractSteps 测试从图反推线性步骤
func TestExtractSteps(t *testing.T) {
	def, err := NormalizeDefinition(validGraphInput())
	if err != nil {
		t.Fatalf("NormalizeDefinition 返回错误: %v", err)
	}
	steps := ExtractSteps(def)
	if len(steps) != 1 {
		t.Fatalf("步骤数 = %d, 期望 1 (start/end 不计入)", len(steps))
	}
	if steps[0].StepNo != 1 || steps[0].StepType != "approval" {
		t.Errorf("步骤内容错误: %+v", steps[0])
	}
}

// TestNormalizeGraphPrimaryGroupFallback 节点缺省配置回落到第一个审批组
func TestNormalizeGraphPrimaryGroupFallback(t *testing.T) {
	raw := validGraphInput()
	raw["nodes"] = []any{
		map[string]any{"id": "start", "node_type": "start"},
		map[string]any{
			"id": "a1", "node_type": "approval",
			"approver_groups": []any{
				map[string]any{"id": "g1", "approver_type": "user", "approver_user_ids": []any{11, 12}},
			},
		},
		map[string]any{"id": "end", "node_type": "end"},
	}
	def, err := NormalizeGraph(raw)
	if err != nil {
		t.Fatalf("NormalizeGraph 返回错误: %v", err)
	}
	node := def.NodeByID("a1")
	if node.ApproverType != ApproverUser {
		t.Errorf("approver_type 应回落到审批组, 实际 %s", node.ApproverType)
	}
	if len(node.ApproverUserIDs) != 2 {
		t.Errorf("审批人应回落到审批组: %v", node.ApproverUserIDs)
	}
}
