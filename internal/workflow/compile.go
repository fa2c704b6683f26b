package workflow

import "fmt"

// 流程定义编译器。
//
// 对外只有一种落库格式：graph_v1 图定义。旧版线性 steps 数组在这里
// 被编译为 start -> step_1 ... step_N -> end 的图；图定义本身则做
// 字段级规范化。两条入口最终都输出 *Definition。

var nodeDefaultNames = map[NodeType]string{
	NodeStart:         "开始",
	NodeEnd:           "结束",
	NodeCondition:     "条件分支",
	NodeApproval:      "审批",
	NodeCC:            "抄送",
	NodeParallelStart: "并行分支",
	NodeParallelJoin:  "并行汇聚",
	NodeSubprocess:    "子流程",
}

// NormalizeDefinition 规范化任意来源的流程定义。
// 带 nodes 列表的 map 走图定义规范化，其余按旧版 steps 数组编译。
func NormalizeDefinition(raw any) (*Definition, error) {
	if m, ok := asMap(raw); ok {
		if _, isList := asList(m["nodes"]); isList {
			return NormalizeGraph(m)
		}
	}
	steps, err := NormalizeSteps(raw)
	if err != nil {
		return nil, err
	}
	return StepsToGraph(steps), nil
}

// NormalizeSteps 规范化旧版线性步骤数组
func NormalizeSteps(raw any) ([]Step, error) {
	rawSteps, ok := asList(raw)
	if !ok || len(rawSteps) == 0 {
		return nil, newError(CodeInvalidSteps)
	}

	steps := make([]Step, 0, len(rawSteps))
	for idx, rawStep := range rawSteps {
		stepMap, ok := asMap(rawStep)
		if !ok {
			return nil, newError(CodeInvalidSteps)
		}

		name := trimmedString(stepMap["name"])
		stepType := lower(trimmedString(stepMap["step_type"]))
		if stepType == "" {
			stepType = "approval"
		}
		if name == "" {
			return nil, newError(CodeInvalidStepName)
		}
		if !stepTypes[stepType] {
			return nil, newError(CodeInvalidStepType)
		}

		step := Step{StepNo: idx + 1, Name: name, StepType: stepType}

		if stepType == "approval" || stepType == "cc" {
			if err := fillApprovalConfig(&approvalTarget{step: &step}, stepMap, nil); err != nil {
				return nil, err
			}
		}

		if stepType == "subprocess" {
			templateID := uintOf(stepMap["subprocess_template_id"])
			if templateID == 0 {
				return nil, newError(CodeInvalidSubprocessTemplate)
			}
			step.SubprocessTemplateID = templateID
		}

		cond, err := NormalizeCondition(stepMap["condition"])
		if err != nil {
			return nil, err
		}
		step.Condition = cond

		steps = append(steps, step)
	}
	return steps, nil
}

// StepsToGraph 把规范化后的步骤编译为链式图：
// start -> step_1 -> ... -> step_N -> end，边优先级即步骤序号。
func StepsToGraph(steps []Step) *Definition {
	def := &Definition{
		Version:     DefinitionVersion,
		StartNodeID: "start",
		Nodes: []Node{
			{ID: "start", Name: nodeDefaultNames[NodeStart], NodeType: NodeStart},
			{ID: "end", Name: nodeDefaultNames[NodeEnd], NodeType: NodeEnd},
		},
	}

	previousID := "start"
	for idx := range steps {
		step := &steps[idx]
		nodeID := fmt.Sprintf("step_%d", idx+1)
		nodeType := NodeType(step.StepType)
		if !nodeTypes[nodeType] {
			nodeType = NodeApproval
		}
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("节点%d", idx+1)
		}
		def.Nodes = append(def.Nodes, Node{
			ID:                   nodeID,
			Name:                 name,
			NodeType:             nodeType,
			ApproverType:         step.ApproverType,
			ApprovalMode:         step.ApprovalMode,
			ApprovalType:         step.ApprovalType,
			AllowSelfApprove:     step.AllowSelfApprove,
			AllowReturn:          step.AllowReturn,
			TimeoutHours:         step.TimeoutHours,
			FieldPermissions:     step.FieldPermissions,
			ApproverGroups:       step.ApproverGroups,
			ApproverUserIDs:      step.ApproverUserIDs,
			ApproverRoles:        step.ApproverRoles,
			ApproverPositions:    step.ApproverPositions,
			ApproverFieldKey:     step.ApproverFieldKey,
			PreviousStepOffset:   step.PreviousStepOffset,
			SubprocessTemplateID: step.SubprocessTemplateID,
			Condition:            step.Condition,
		})
		def.Edges = append(def.Edges, Edge{
			ID:       fmt.Sprintf("e_%s_%s", previousID, nodeID),
			Source:   previousID,
			Target:   nodeID,
			Priority: idx + 1,
		})
		previousID = nodeID
	}

	def.Edges = append(def.Edges, Edge{
		ID:       fmt.Sprintf("e_%s_end", previousID),
		Source:   previousID,
		Target:   "end",
		Priority: len(def.Edges) + 1,
	})
	return def
}

// NormalizeGraph 规范化图定义：节点字段、审批配置、连线与优先级
func NormalizeGraph(raw map[string]any) (*Definition, error) {
	rawNodes, ok := asList(raw["nodes"])
	if !ok || len(rawNodes) == 0 {
		return nil, newError(CodeInvalidDefinitionNodes)
	}
	rawEdges, ok := asList(raw["edges"])
	if !ok {
		return nil, newError(CodeInvalidDefinitionEdges)
	}

	def := &Definition{Version: DefinitionVersion}
	nodeIDs := map[string]bool{}
	var startNodes, endNodes []string

	for idx, rawNode := range rawNodes {
		nodeMap, ok := asMap(rawNode)
		if !ok {
			return nil, newError(CodeInvalidDefinitionNode)
		}

		nodeID := trimmedString(nodeMap["id"])
		nodeType := NodeType(lower(trimmedString(nodeMap["node_type"])))
		name := trimmedString(nodeMap["name"])

		if nodeID == "" || !NodeIDPattern.MatchString(nodeID) {
			return nil, newError(CodeInvalidDefinitionNodeID)
		}
		if nodeIDs[nodeID] {
			return nil, newError(CodeDuplicatedNodeID)
		}
		if !nodeTypes[nodeType] {
			return nil, newError(CodeInvalidDefinitionNodeType)
		}
		if name == "" {
			name = nodeDefaultNames[nodeType]
			if name == "" {
				name = fmt.Sprintf("节点%d", idx+1)
			}
		}

		node := Node{ID: nodeID, Name: name, NodeType: nodeType}

		if posMap, ok := asMap(nodeMap["position"]); ok {
			x, okX := floatOf(posMap["x"])
			y, okY := floatOf(posMap["y"])
			if !okX {
				x = 0
			}
			if !okY {
				y = 0
			}
			node.Position = &Position{X: x, Y: y}
		}

		if nodeType == NodeApproval || nodeType == NodeCC {
			groups, err := normalizeApproverGroups(nodeMap["approver_groups"])
			if err != nil {
				return nil, err
			}
			var primary *ApproverGroup
			if len(groups) > 0 {
				primary = &groups[0]
			}
			if err := fillApprovalConfig(&approvalTarget{node: &node}, nodeMap, primary); err != nil {
				return nil, err
			}
			node.ApproverGroups = groups
		}

		if nodeType == NodeSubprocess {
			templateID := uintOf(nodeMap["subprocess_template_id"])
			if templateID == 0 {
				return nil, newError(CodeInvalidSubprocessTemplate)
			}
			node.SubprocessTemplateID = templateID
		}

		cond, err := NormalizeCondition(nodeMap["condition"])
		if err != nil {
			return nil, err
		}
		node.Condition = cond

		if nodeType == NodeStart {
			startNodes = append(startNodes, nodeID)
		}
		if nodeType == NodeEnd {
			endNodes = append(endNodes, nodeID)
		}

		def.Nodes = append(def.Nodes, node)
		nodeIDs[nodeID] = true
	}

	if len(startNodes) != 1 {
		return nil, newError(CodeInvalidStartNode)
	}
	if len(endNodes) == 0 {
		return nil, newError(CodeMissingEndNode)
	}

	startNodeID := trimmedString(raw["start_node_id"])
	if startNodeID == "" {
		startNodeID = startNodes[0]
	}
	if !nodeIDs[startNodeID] {
		return nil, newError(CodeInvalidStartNode)
	}
	def.StartNodeID = startNodeID

	for idx, rawEdge := range rawEdges {
		edgeMap, ok := asMap(rawEdge)
		if !ok {
			return nil, newError(CodeInvalidDefinitionEdge)
		}
		source := trimmedString(edgeMap["source"])
		target := trimmedString(edgeMap["target"])
		if !nodeIDs[source] || !nodeIDs[target] || source == target {
			return nil, newError(CodeInvalidEdgeTarget)
		}

		edgeID := trimmedString(edgeMap["id"])
		if edgeID == "" {
			edgeID = fmt.Sprintf("e_%d_%s_%s", idx+1, source, target)
		}
		priority, ok := intOf(edgeMap["priority"])
		if !ok || edgeMap["priority"] == nil {
			priority = idx + 1
		}

		edge := Edge{ID: edgeID, Source: source, Target: target, Priority: priority}

		cond, err := NormalizeCondition(edgeMap["condition"])
		if err != nil {
			return nil, err
		}
		edge.Condition = cond

		if label := edgeMap["label"]; !isMissing(label) {
			edge.Label = stringOf(label)
		}
		if boolFlag(edgeMap["is_default"], false) {
			edge.IsDefault = true
		}
		def.Edges = append(def.Edges, edge)
	}

	return def, nil
}

// approvalTarget 让步骤和节点共用同一份审批配置解析逻辑
type approvalTarget struct {
	step *Step
	node *Node
}

func (t *approvalTarget) set(apply func(step *Step), applyNode func(node *Node)) {
	if t.step != nil {
		apply(t.step)
	}
	if t.node != nil {
		applyNode(t.node)
	}
}

// fillApprovalConfig 解析审批/抄送的公共配置。
// 图节点允许缺省 approver_type 并回落到第一个审批组（primary），
// 旧版步骤没有审批组回落、缺省为 user，两者都在这里处理。
func fillApprovalConfig(target *approvalTarget, raw map[string]any, primary *ApproverGroup) error {
	defaultType := ApproverUser
	if target.node != nil {
		defaultType = ApproverManager
	}

	approverType := lower(trimmedString(raw["approver_type"]))
	if approverType == "" && primary != nil {
		approverType = primary.ApproverType
	}
	if approverType == "" {
		approverType = defaultType
	}

	approvalMode := lower(trimmedString(raw["approval_mode"]))
	if approvalMode == "" {
		approvalMode = ApprovalModeAny
	}
	approvalType := lower(trimmedString(raw["approval_type"]))
	if approvalType != "" {
		if !approvalTypes[approvalType] {
			return newError(CodeInvalidStepApprovalMode)
		}
		switch approvalType {
		case ApprovalTypeAll:
			approvalMode = ApprovalModeAll
		case ApprovalTypeAny:
			approvalMode = ApprovalModeAny
		}
	}

	if !approverTypes[approverType] {
		return newError(CodeInvalidStepApproverType)
	}
	if !approvalModes[approvalMode] {
		return newError(CodeInvalidStepApprovalMode)
	}

	allowSelf := boolFlag(raw["allow_self_approve"], true)
	allowReturn := boolFlag(raw["allow_return"], true)
	timeoutHours, _ := intOf(raw["timeout_hours"])
	if timeoutHours < 0 {
		timeoutHours = 0
	}
	permissions := normalizeFieldPermissions(raw["field_permissions"])

	target.set(
		func(s *Step) {
			s.ApproverType = approverType
			s.ApprovalMode = approvalMode
			s.ApprovalType = approvalType
			s.AllowSelfApprove = &allowSelf
			s.AllowReturn = &allowReturn
			s.TimeoutHours = timeoutHours
			s.FieldPermissions = permissions
		},
		func(n *Node) {
			n.ApproverType = approverType
			n.ApprovalMode = approvalMode
			n.ApprovalType = approvalType
			n.AllowSelfApprove = &allowSelf
			n.AllowReturn = &allowReturn
			n.TimeoutHours = timeoutHours
			n.FieldPermissions = permissions
		},
	)

	switch approverType {
	case ApproverUser:
		userIDs := uniqueUserIDs(raw["approver_user_ids"])
		if len(userIDs) == 0 && primary != nil && primary.ApproverType == ApproverUser {
			userIDs = primary.ApproverUserIDs
		}
		if len(userIDs) == 0 {
			return newError(CodeMissingStepUserApprovers)
		}
		target.set(
			func(s *Step) { s.ApproverUserIDs = userIDs },
			func(n *Node) { n.ApproverUserIDs = userIDs },
		)
	case ApproverRole:
		roles := uniqueStrings(raw["approver_roles"])
		if len(roles) == 0 && primary != nil && primary.ApproverType == ApproverRole {
			roles = primary.ApproverRoles
		}
		if len(roles) == 0 {
			return newError(CodeMissingStepRoleApprovers)
		}
		target.set(
			func(s *Step) { s.ApproverRoles = roles },
			func(n *Node) { n.ApproverRoles = roles },
		)
	case ApproverPosition:
		positions := uniqueStrings(raw["approver_positions"])
		if len(positions) == 0 && primary != nil && primary.ApproverType == ApproverPosition {
			positions = primary.ApproverPositions
		}
		if len(positions) == 0 {
			return newError(CodeMissingStepPosApprovers)
		}
		target.set(
			func(s *Step) { s.ApproverPositions = positions },
			func(n *Node) { n.ApproverPositions = positions },
		)
	case ApproverApplicantSelect:
		fieldKey := trimmedString(raw["approver_field_key"])
		if fieldKey == "" && primary != nil {
			fieldKey = primary.ApproverFieldKey
		}
		if fieldKey == "" || !FieldKeyPattern.MatchString(fieldKey) {
			return newError(CodeInvalidApplicantSelect)
		}
		target.set(
			func(s *Step) { s.ApproverFieldKey = fieldKey },
			func(n *Node) { n.ApproverFieldKey = fieldKey },
		)
	case ApproverPreviousHandler:
		offset := 1
		if rawOffset := raw["previous_step_offset"]; rawOffset != nil {
			parsed, ok := intOf(rawOffset)
			if !ok {
				return newError(CodeInvalidPreviousHandler)
			}
			offset = parsed
		} else if primary != nil && primary.PreviousStepOffset > 0 {
			offset = primary.PreviousStepOffset
		}
		if offset <= 0 {
			return newError(CodeInvalidPreviousHandler)
		}
		target.set(
			func(s *Step) { s.PreviousStepOffset = offset },
			func(n *Node) { n.PreviousStepOffset = offset },
		)
	}
	return nil
}

// normalizeFieldPermissions 字段权限是尽力解析的：非法项直接丢弃，不报错
func normalizeFieldPermissions(raw any) []FieldPermission {
	items, ok := asList(raw)
	if !ok {
		return nil
	}
	var permissions []FieldPermission
	seen := map[string]bool{}
	for _, item := range items {
		itemMap, ok := asMap(item)
		if !ok {
			continue
		}
		fieldKey := trimmedString(itemMap["field_key"])
		if fieldKey == "" {
			fieldKey = trimmedString(itemMap["key"])
		}
		if fieldKey == "" || !FieldKeyPattern.MatchString(fieldKey) || seen[fieldKey] {
			continue
		}
		seen[fieldKey] = true
		permissions = append(permissions, FieldPermission{
			FieldKey: fieldKey,
			CanView:  boolFlag(itemMap["can_view"], true),
			CanEdit:  boolFlag(itemMap["can_edit"], false),
			Required: boolFlag(itemMap["required"], false),
		})
	}
	return permissions
}

// normalizeApproverGroups 条件审批组同样是尽力解析：类型非法的组被跳过，
// 组内条件解析失败时丢弃条件而保留组
func normalizeApproverGroups(raw any) ([]ApproverGroup, error) {
	items, ok := asList(raw)
	if !ok {
		return nil, nil
	}
	var groups []ApproverGroup
	for idx, item := range items {
		itemMap, ok := asMap(item)
		if !ok {
			continue
		}
		approverType := lower(trimmedString(itemMap["approver_type"]))
		if approverType == "" {
			approverType = ApproverManager
		}
		if !approverTypes[approverType] {
			continue
		}
		groupID := trimmedString(itemMap["id"])
		if groupID == "" {
			groupID = fmt.Sprintf("group_%d", idx+1)
		}
		if len(groupID) > 64 {
			groupID = groupID[:64]
		}
		name := trimmedString(itemMap["name"])
		if name == "" {
			name = fmt.Sprintf("审批组%d", idx+1)
		}

		group := ApproverGroup{ID: groupID, Name: name, ApproverType: approverType}

		switch approverType {
		case ApproverUser:
			group.ApproverUserIDs = uniqueUserIDs(itemMap["approver_user_ids"])
		case ApproverRole:
			group.ApproverRoles = uniqueStrings(itemMap["approver_roles"])
		case ApproverPosition:
			group.ApproverPositions = uniqueStrings(itemMap["approver_positions"])
		case ApproverApplicantSelect:
			fieldKey := trimmedString(itemMap["approver_field_key"])
			if fieldKey != "" && FieldKeyPattern.MatchString(fieldKey) {
				group.ApproverFieldKey = fieldKey
			}
		case ApproverPreviousHandler:
			offset, ok := intOf(itemMap["previous_step_offset"])
			if !ok || offset <= 0 {
				offset = 1
			}
			group.PreviousStepOffset = offset
		}

		group.CCUserIDs = uniqueUserIDs(itemMap["cc_user_ids"])

		if rawCond := itemMap["condition"]; !isMissing(rawCond) {
			cond, err := NormalizeCondition(rawCond)
			if err == nil && cond != nil {
				group.Condition = cond
			}
		}

		groups = append(groups, group)
	}
	return groups, nil
}

// ExtractSteps 从图定义反推线性步骤列表，供旧版列表接口展示
func ExtractSteps(def *Definition) []Step {
	if def == nil {
		return nil
	}
	var steps []Step
	for i := range def.Nodes {
		node := &def.Nodes[i]
		switch node.NodeType {
		case NodeApproval, NodeCC, NodeCondition, NodeSubprocess, NodeParallelStart, NodeParallelJoin:
		default:
			continue
		}
		steps = append(steps, Step{
			StepNo:               len(steps) + 1,
			Name:                 node.Name,
			StepType:             string(node.NodeType),
			ApproverType:         node.ApproverType,
			ApprovalMode:         node.ApprovalMode,
			ApprovalType:         node.ApprovalType,
			AllowSelfApprove:     node.AllowSelfApprove,
			AllowReturn:          node.AllowReturn,
			TimeoutHours:         node.TimeoutHours,
			FieldPermissions:     node.FieldPermissions,
			ApproverGroups:       node.ApproverGroups,
			ApproverUserIDs:      node.ApproverUserIDs,
			ApproverRoles:        node.ApproverRoles,
			ApproverPositions:    node.ApproverPositions,
			ApproverFieldKey:     node.ApproverFieldKey,
			PreviousStepOffset:   node.PreviousStepOffset,
			SubprocessTemplateID: node.SubprocessTemplateID,
			Condition:            node.Condition,
		})
	}
	return steps
}
