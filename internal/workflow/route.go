package workflow

// 运行时路由的纯图部分：给定当前节点和表单数据挑选下一条边。
// 任务创建、审批人解析等落库动作在 service 层完成。

// RouteIndex 针对一份定义的路由索引
type RouteIndex struct {
	def *Definition
	idx *graphIndex
}

// NewRouteIndex 构建路由索引，出边已按 (priority, id) 排序
func NewRouteIndex(def *Definition) *RouteIndex {
	return &RouteIndex{def: def, idx: buildGraphIndex(def)}
}

// Node 按 id 查找节点，不存在返回 nil
func (r *RouteIndex) Node(nodeID string) *Node {
	return r.idx.nodes[nodeID]
}

// NodeCount 图内有效节点数
func (r *RouteIndex) NodeCount() int {
	return len(r.idx.nodes)
}

// MaxHops 单次路由的跳数上限，防御配置错误导致的死循环
func (r *RouteIndex) MaxHops() int {
	hops := r.NodeCount() * 3
	if hops < 20 {
		hops = 20
	}
	return hops
}

// NextEdge 选择下一条出边：优先取条件命中的最高优先级边，
// 没有命中时回落到默认分支，都没有返回 nil。
func (r *RouteIndex) NextEdge(nodeID string, formData map[string]any) *Edge {
	var defaultEdge *Edge
	for _, edge := range r.idx.outgoing[nodeID] {
		if edge.Condition != nil && EvalCondition(formData, edge.Condition) {
			return edge
		}
		if defaultEdge == nil && edge.IsDefaultBranch() {
			defaultEdge = edge
		}
	}
	return defaultEdge
}
