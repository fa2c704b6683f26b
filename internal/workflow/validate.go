package workflow

import "sort"

// 发布前的图结构校验。
// 错误阻断发布，警告仅提示；校验码是稳定契约，前端编排器按码高亮节点。

// 校验问题码
const (
	IssueInvalidDefinition        = "invalid_definition"
	IssueInvalidDefinitionNodes   = "invalid_definition_nodes"
	IssueInvalidStartNode         = "invalid_start_node"
	IssueMissingEndNode           = "missing_end_node"
	IssueStartNodeHasIncoming     = "start_node_has_incoming_edge"
	IssueEndNodeHasOutgoing       = "end_node_has_outgoing_edge"
	IssueNodeMissingOutgoing      = "node_missing_outgoing_edge"
	IssueConditionRequiresBranch  = "condition_node_requires_branches"
	IssueConditionMissingDefault  = "condition_node_missing_default_branch"
	IssueConditionMultipleDefault = "condition_node_multiple_default_branch"
	IssueParallelStartBranches    = "parallel_start_requires_branches"
	IssueParallelJoinIncoming     = "parallel_join_requires_incoming"
	IssueInvalidSubprocess        = "invalid_subprocess_template"
	IssueUnreachableNodes         = "unreachable_nodes"
	IssueDeadEndNodes             = "dead_end_nodes"
	IssueGraphHasCycle            = "graph_has_cycle"

	WarnNonConditionMultiBranch   = "non_condition_multi_branch"
	WarnDefaultBranchWithCondtion = "default_branch_with_condition"
)

// Issue 单条校验问题，Nodes/EdgeIDs 排序去重便于前端定位
type Issue struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Nodes   []string `json:"nodes,omitempty"`
	EdgeIDs []string `json:"edge_ids,omitempty"`
}

// ValidationResult 校验结果，Errors 非空即不可发布
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func newIssue(code, message string, nodes, edgeIDs []string) Issue {
	return Issue{
		Code:    code,
		Message: message,
		Nodes:   sortedUnique(nodes),
		EdgeIDs: sortedUnique(edgeIDs),
	}
}

func sortedUnique(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		if item != "" && !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

// graphIndex 节点索引与按 (priority, id) 排序的邻接表，校验与路由共用
type graphIndex struct {
	nodes    map[string]*Node
	outgoing map[string][]*Edge
	incoming map[string][]*Edge
}

func buildGraphIndex(def *Definition) *graphIndex {
	idx := &graphIndex{
		nodes:    map[string]*Node{},
		outgoing: map[string][]*Edge{},
		incoming: map[string][]*Edge{},
	}
	if def == nil {
		return idx
	}
	for i := range def.Nodes {
		node := &def.Nodes[i]
		if node.ID != "" {
			idx.nodes[node.ID] = node
		}
	}
	for i := range def.Edges {
		edge := &def.Edges[i]
		if idx.nodes[edge.Source] == nil || idx.nodes[edge.Target] == nil {
			continue
		}
		idx.outgoing[edge.Source] = append(idx.outgoing[edge.Source], edge)
		idx.incoming[edge.Target] = append(idx.incoming[edge.Target], edge)
	}
	for source := range idx.outgoing {
		edges := idx.outgoing[source]
		sort.SliceStable(edges, func(a, b int) bool {
			pa, pb := edges[a].Priority, edges[b].Priority
			if pa == 0 {
				pa = 9999
			}
			if pb == 0 {
				pb = 9999
			}
			if pa != pb {
				return pa < pb
			}
			return edges[a].ID < edges[b].ID
		})
	}
	return idx
}

func (g *graphIndex) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateDefinition 对规范化后的图定义做结构校验
func ValidateDefinition(def *Definition) *ValidationResult {
	result := &ValidationResult{Errors: []Issue{}, Warnings: []Issue{}}
	if def == nil {
		result.Errors = append(result.Errors, newIssue(IssueInvalidDefinition, "流程定义结构不合法。", nil, nil))
		return result
	}

	idx := buildGraphIndex(def)
	if len(idx.nodes) == 0 {
		result.Errors = append(result.Errors, newIssue(IssueInvalidDefinitionNodes, "流程图没有可用节点。", nil, nil))
		return result
	}

	startNodeID := def.StartNodeID
	var startNodes, endNodes []string
	for _, id := range idx.sortedNodeIDs() {
		switch idx.nodes[id].NodeType {
		case NodeStart:
			startNodes = append(startNodes, id)
		case NodeEnd:
			endNodes = append(endNodes, id)
		}
	}

	startValid := true
	if len(startNodes) != 1 || idx.nodes[startNodeID] == nil {
		startValid = false
		result.Errors = append(result.Errors, newIssue(
			IssueInvalidStartNode,
			"流程图必须且只能有一个开始节点，并与 start_node_id 对齐。",
			append(append([]string{}, startNodes...), startNodeID), nil,
		))
	} else if idx.nodes[startNodeID].NodeType != NodeStart {
		startValid = false
		result.Errors = append(result.Errors, newIssue(
			IssueInvalidStartNode,
			"start_node_id 必须指向开始节点。",
			[]string{startNodeID}, nil,
		))
	}

	if len(endNodes) == 0 {
		result.Errors = append(result.Errors, newIssue(IssueMissingEndNode, "流程图至少需要一个结束节点。", nil, nil))
	}

	if idx.nodes[startNodeID] != nil {
		if startIncoming := idx.incoming[startNodeID]; len(startIncoming) > 0 {
			result.Errors = append(result.Errors, newIssue(
				IssueStartNodeHasIncoming,
				"开始节点不能有入线。",
				[]string{startNodeID}, edgeIDsOf(startIncoming),
			))
		}
	}

	var endWithOutgoing []string
	var endOutgoingEdges []string
	for _, id := range endNodes {
		if edges := idx.outgoing[id]; len(edges) > 0 {
			endWithOutgoing = append(endWithOutgoing, id)
			endOutgoingEdges = append(endOutgoingEdges, edgeIDsOf(edges)...)
		}
	}
	if len(endWithOutgoing) > 0 {
		result.Errors = append(result.Errors, newIssue(
			IssueEndNodeHasOutgoing,
			"结束节点不能配置出线。",
			endWithOutgoing, endOutgoingEdges,
		))
	}

	var noOutgoing []string
	for _, id := range idx.sortedNodeIDs() {
		if idx.nodes[id].NodeType != NodeEnd && len(idx.outgoing[id]) == 0 {
			noOutgoing = append(noOutgoing, id)
		}
	}
	if len(noOutgoing) > 0 {
		result.Errors = append(result.Errors, newIssue(
			IssueNodeMissingOutgoing,
			"除结束节点外，其余节点都必须至少有一条出线。",
			noOutgoing, nil,
		))
	}

	for _, id := range idx.sortedNodeIDs() {
		node := idx.nodes[id]
		outgoing := idx.outgoing[id]
		switch node.NodeType {
		case NodeCondition:
			if len(outgoing) < 2 {
				result.Errors = append(result.Errors, newIssue(
					IssueConditionRequiresBranch, "条件节点至少需要两条分支。", []string{id}, nil))
			}
			var defaults []*Edge
			for _, edge := range outgoing {
				if edge.IsDefaultBranch() {
					defaults = append(defaults, edge)
				}
			}
			if len(defaults) == 0 {
				result.Errors = append(result.Errors, newIssue(
					IssueConditionMissingDefault,
					"条件节点至少要有一条默认分支（无条件或标记默认）。",
					[]string{id}, nil))
			} else if len(defaults) > 1 {
				result.Errors = append(result.Errors, newIssue(
					IssueConditionMultipleDefault,
					"条件节点只能有一条默认分支。",
					[]string{id}, edgeIDsOf(defaults)))
			}
		case NodeParallelStart:
			if len(outgoing) < 2 {
				result.Errors = append(result.Errors, newIssue(
					IssueParallelStartBranches, "并行分支节点至少需要两条分支。", []string{id}, nil))
			}
		case NodeParallelJoin:
			if len(idx.incoming[id]) < 2 {
				result.Errors = append(result.Errors, newIssue(
					IssueParallelJoinIncoming, "并行汇聚节点至少需要两条入线。", []string{id}, nil))
			}
		case NodeSubprocess:
			if node.SubprocessTemplateID == 0 {
				result.Errors = append(result.Errors, newIssue(
					IssueInvalidSubprocess,
					"子流程节点缺少有效的 subprocess_template_id。",
					[]string{id}, nil))
			}
		case NodeStart, NodeEnd, NodeApproval, NodeCC:
			if node.NodeType != NodeStart && node.NodeType != NodeEnd && len(outgoing) > 1 {
				result.Warnings = append(result.Warnings, newIssue(
					WarnNonConditionMultiBranch,
					"非条件节点存在多条分支，将按优先级和条件命中顺序路由。",
					[]string{id}, nil))
			}
		}
	}

	for _, id := range idx.sortedNodeIDs() {
		for _, edge := range idx.outgoing[id] {
			if edge.IsDefault && edge.Condition != nil {
				result.Warnings = append(result.Warnings, newIssue(
					WarnDefaultBranchWithCondtion,
					"默认分支同时配置了条件，条件命中失败时仍会作为兜底分支。",
					[]string{id, edge.Target}, []string{edge.ID}))
			}
		}
	}

	// 前向可达性：显式栈遍历
	reachable := map[string]bool{}
	if idx.nodes[startNodeID] != nil {
		pending := []string{startNodeID}
		for len(pending) > 0 {
			current := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			if reachable[current] {
				continue
			}
			reachable[current] = true
			for _, edge := range idx.outgoing[current] {
				if !reachable[edge.Target] {
					pending = append(pending, edge.Target)
				}
			}
		}
	}

	var unreachable []string
	for _, id := range idx.sortedNodeIDs() {
		if !reachable[id] {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) > 0 {
		result.Errors = append(result.Errors, newIssue(
			IssueUnreachableNodes, "存在无法从开始节点到达的节点。", unreachable, nil))
	}

	// 反向可达性：能走到某个结束节点的集合
	canReachEnd := map[string]bool{}
	pendingEnd := append([]string{}, endNodes...)
	for len(pendingEnd) > 0 {
		current := pendingEnd[len(pendingEnd)-1]
		pendingEnd = pendingEnd[:len(pendingEnd)-1]
		if canReachEnd[current] {
			continue
		}
		canReachEnd[current] = true
		for _, edge := range idx.incoming[current] {
			if !canReachEnd[edge.Source] {
				pendingEnd = append(pendingEnd, edge.Source)
			}
		}
	}

	var deadEnds []string
	for _, id := range idx.sortedNodeIDs() {
		if reachable[id] && idx.nodes[id].NodeType != NodeEnd && !canReachEnd[id] {
			deadEnds = append(deadEnds, id)
		}
	}
	if len(deadEnds) > 0 {
		result.Errors = append(result.Errors, newIssue(
			IssueDeadEndNodes, "存在无法走到结束节点的死路节点。", deadEnds, nil))
	}

	if startValid && len(reachable) > 0 && hasCycleFrom(startNodeID, idx, reachable) {
		result.Errors = append(result.Errors, newIssue(
			IssueGraphHasCycle, "流程图包含环路，当前审批引擎不支持循环回路。", nil, nil))
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func edgeIDsOf(edges []*Edge) []string {
	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, edge.ID)
	}
	return ids
}

// hasCycleFrom 从开始节点出发、限定在可达子图内找环。
// 用显式栈模拟 DFS 的进入/回溯两个阶段，避免深图打爆调用栈。
func hasCycleFrom(startNodeID string, idx *graphIndex, allowed map[string]bool) bool {
	if startNodeID == "" || !allowed[startNodeID] {
		return false
	}

	const (
		stateEnter = 0
		stateLeave = 1
	)
	type frame struct {
		nodeID string
		state  int
	}

	visited := map[string]bool{}
	onPath := map[string]bool{}
	stack := []frame{{nodeID: startNodeID, state: stateEnter}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.state == stateLeave {
			onPath[top.nodeID] = false
			continue
		}
		if onPath[top.nodeID] {
			return true
		}
		if visited[top.nodeID] {
			continue
		}
		visited[top.nodeID] = true
		onPath[top.nodeID] = true
		stack = append(stack, frame{nodeID: top.nodeID, state: stateLeave})
		for _, edge := range idx.outgoing[top.nodeID] {
			if !allowed[edge.Target] {
				continue
			}
			if onPath[edge.Target] {
				return true
			}
			if !visited[edge.Target] {
				stack = append(stack, frame{nodeID: edge.Target, state: stateEnter})
			}
		}
	}
	return false
}
