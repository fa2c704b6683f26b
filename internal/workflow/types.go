package workflow

import "regexp"

// 流程定义相关的枚举与约束，发布校验和运行时路由共用这一份定义

// NodeType 流程图节点类型
type NodeType string

const (
	NodeStart         NodeType = "start"          // 开始
	NodeApproval      NodeType = "approval"       // 审批
	NodeCC            NodeType = "cc"             // 抄送
	NodeCondition     NodeType = "condition"      // 条件分支
	NodeEnd           NodeType = "end"            // 结束
	NodeParallelStart NodeType = "parallel_start" // 并行分支
	NodeParallelJoin  NodeType = "parallel_join"  // 并行汇聚
	NodeSubprocess    NodeType = "subprocess"     // 子流程
)

// 表单字段类型
const (
	FieldText       = "text"
	FieldTextarea   = "textarea"
	FieldNumber     = "number"
	FieldDate       = "date"
	FieldSelect     = "select"
	FieldBoolean    = "boolean"
	FieldAttachment = "attachment"
	FieldTable      = "table"
)

// 审批人类型
const (
	ApproverUser              = "user"
	ApproverRole              = "role"
	ApproverManager           = "manager"
	ApproverDepartmentManager = "department_manager"
	ApproverPosition          = "position"
	ApproverApplicantSelect   = "applicant_select"
	ApproverPreviousHandler   = "previous_handler"
)

// 审批方式
const (
	ApprovalModeAny = "any" // 任意一人通过即可
	ApprovalModeAll = "all" // 需要全部通过

	ApprovalTypeAny        = "any"
	ApprovalTypeAll        = "all"
	ApprovalTypeSequential = "sequential" // 按顺序依次审批
)

// DefinitionVersion 规范化后流程定义的版本标记，落库与快照都使用该格式
const DefinitionVersion = "graph_v1"

// IdempotencyKeyMaxLen 幂等键最大长度
const IdempotencyKeyMaxLen = 128

var (
	// FieldKeyPattern 表单字段 key 约束：字母开头，2-64 位字母数字下划线
	FieldKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{1,63}$`)
	// NodeIDPattern 节点 id 约束
	NodeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	// datePattern 日期字段格式 YYYY-MM-DD
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

var fieldTypes = map[string]bool{
	FieldText: true, FieldTextarea: true, FieldNumber: true, FieldDate: true,
	FieldSelect: true, FieldBoolean: true, FieldAttachment: true, FieldTable: true,
}

// 表格列只允许一部分基础类型
var tableColumnTypes = map[string]bool{
	FieldText: true, FieldTextarea: true, FieldNumber: true, FieldDate: true,
	FieldSelect: true, FieldBoolean: true,
}

var approverTypes = map[string]bool{
	ApproverUser: true, ApproverRole: true, ApproverManager: true,
	ApproverDepartmentManager: true, ApproverPosition: true,
	ApproverApplicantSelect: true, ApproverPreviousHandler: true,
}

var approvalModes = map[string]bool{ApprovalModeAny: true, ApprovalModeAll: true}

var approvalTypes = map[string]bool{
	ApprovalTypeAny: true, ApprovalTypeAll: true, ApprovalTypeSequential: true,
}

var stepTypes = map[string]bool{
	"approval": true, "cc": true, "condition": true, "subprocess": true,
	"parallel_start": true, "parallel_join": true,
}

var nodeTypes = map[NodeType]bool{
	NodeStart: true, NodeApproval: true, NodeCC: true, NodeCondition: true,
	NodeEnd: true, NodeParallelStart: true, NodeParallelJoin: true, NodeSubprocess: true,
}

var conditionLogics = map[string]bool{"and": true, "or": true}

var conditionOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "not_in": true, "contains": true,
	"is_true": true, "is_false": true, "is_empty": true, "not_empty": true,
}

// FormField 规范化后的表单字段
type FormField struct {
	Key         string        `json:"key"`
	Label       string        `json:"label"`
	Type        string        `json:"type"`
	Required    bool          `json:"required"`
	Options     []string      `json:"options"`
	Default     any           `json:"default"`
	Order       int           `json:"order"`
	Columns     []TableColumn `json:"columns,omitempty"`
	MaxCount    int           `json:"max_count,omitempty"`
	Placeholder string        `json:"placeholder,omitempty"`
}

// TableColumn 表格字段的列定义
type TableColumn struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

// ConditionRule 单条条件规则 {field, operator, value}
type ConditionRule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Condition 条件定义：规则列表与受限表达式的 and/or 组合
type Condition struct {
	Logic      string          `json:"logic"`
	Rules      []ConditionRule `json:"rules,omitempty"`
	Expression string          `json:"expression,omitempty"`
}

// FieldPermission 节点级别的字段权限
type FieldPermission struct {
	FieldKey string `json:"field_key"`
	CanView  bool   `json:"can_view"`
	CanEdit  bool   `json:"can_edit"`
	Required bool   `json:"required"`
}

// ApproverGroup 带条件的审批组，按顺序求值后合并命中组的审批人
type ApproverGroup struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	ApproverType       string     `json:"approver_type"`
	ApproverUserIDs    []uint     `json:"approver_user_ids,omitempty"`
	ApproverRoles      []string   `json:"approver_roles,omitempty"`
	ApproverPositions  []string   `json:"approver_positions,omitempty"`
	ApproverFieldKey   string     `json:"approver_field_key,omitempty"`
	PreviousStepOffset int        `json:"previous_step_offset,omitempty"`
	CCUserIDs          []uint     `json:"cc_user_ids,omitempty"`
	Condition          *Condition `json:"condition,omitempty"`
}

// Position 画布坐标，仅供前端编排器回显
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node 流程图节点
type Node struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	NodeType NodeType  `json:"node_type"`
	Position *Position `json:"position,omitempty"`

	// 审批/抄送节点的审批配置
	ApproverType       string            `json:"approver_type,omitempty"`
	ApprovalMode       string            `json:"approval_mode,omitempty"`
	ApprovalType       string            `json:"approval_type,omitempty"`
	AllowSelfApprove   *bool             `json:"allow_self_approve,omitempty"`
	AllowReturn        *bool             `json:"allow_return,omitempty"`
	TimeoutHours       int               `json:"timeout_hours,omitempty"`
	FieldPermissions   []FieldPermission `json:"field_permissions,omitempty"`
	ApproverGroups     []ApproverGroup   `json:"approver_groups,omitempty"`
	ApproverUserIDs    []uint            `json:"approver_user_ids,omitempty"`
	ApproverRoles      []string          `json:"approver_roles,omitempty"`
	ApproverPositions  []string          `json:"approver_positions,omitempty"`
	ApproverFieldKey   string            `json:"approver_field_key,omitempty"`
	PreviousStepOffset int               `json:"previous_step_offset,omitempty"`

	SubprocessTemplateID uint       `json:"subprocess_template_id,omitempty"`
	Condition            *Condition `json:"condition,omitempty"`
}

// SelfApproveAllowed 自审批默认允许，保持与历史数据兼容
func (n *Node) SelfApproveAllowed() bool {
	return n.AllowSelfApprove == nil || *n.AllowSelfApprove
}

// Edge 流程图连线
type Edge struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Target    string     `json:"target"`
	Priority  int        `json:"priority"`
	Condition *Condition `json:"condition,omitempty"`
	Label     string     `json:"label,omitempty"`
	IsDefault bool       `json:"is_default,omitempty"`
}

// IsDefaultBranch 默认分支：显式标记，或者没有配置条件
func (e *Edge) IsDefaultBranch() bool {
	return e.IsDefault || e.Condition == nil
}

// Definition 规范化后的流程定义，落库、快照与路由的唯一格式
type Definition struct {
	Version     string `json:"version"`
	StartNodeID string `json:"start_node_id"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
}

// NodeByID 按 id 查找节点
func (d *Definition) NodeByID(nodeID string) *Node {
	if d == nil || nodeID == "" {
		return nil
	}
	for i := range d.Nodes {
		if d.Nodes[i].ID == nodeID {
			return &d.Nodes[i]
		}
	}
	return nil
}

// Step 兼容旧版线性流程的步骤描述，仅作为编译输入和列表展示使用
type Step struct {
	StepNo               int               `json:"step_no"`
	Name                 string            `json:"name"`
	StepType             string            `json:"step_type"`
	ApproverType         string            `json:"approver_type,omitempty"`
	ApprovalMode         string            `json:"approval_mode,omitempty"`
	ApprovalType         string            `json:"approval_type,omitempty"`
	AllowSelfApprove     *bool             `json:"allow_self_approve,omitempty"`
	AllowReturn          *bool             `json:"allow_return,omitempty"`
	TimeoutHours         int               `json:"timeout_hours,omitempty"`
	FieldPermissions     []FieldPermission `json:"field_permissions,omitempty"`
	ApproverGroups       []ApproverGroup   `json:"approver_groups,omitempty"`
	ApproverUserIDs      []uint            `json:"approver_user_ids,omitempty"`
	ApproverRoles        []string          `json:"approver_roles,omitempty"`
	ApproverPositions    []string          `json:"approver_positions,omitempty"`
	ApproverFieldKey     string            `json:"approver_field_key,omitempty"`
	PreviousStepOffset   int               `json:"previous_step_offset,omitempty"`
	SubprocessTemplateID uint              `json:"subprocess_template_id,omitempty"`
	Condition            *Condition        `json:"condition,omitempty"`
}
