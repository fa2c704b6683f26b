package approval

import (
	"encoding/json"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/workflow"
)

// processSnapshot 实例创建时固化的流程快照
type processSnapshot struct {
	ID         uint            `json:"id"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Definition json.RawMessage `json:"definition"`
}

// loadInstanceDefinition 从实例快照还原规范化流程定义。
// 快照兼容三种历史格式：{definition: {...}}、裸图、裸步骤列表；
// 解析失败时退化为空图，让路由按"直达结束"处理。
func loadInstanceDefinition(instance *model.ApprovalInstance) *workflow.Definition {
	var snapshot any
	if len(instance.ProcessSnapshot) > 0 {
		_ = json.Unmarshal(instance.ProcessSnapshot, &snapshot)
	}

	var rawDefinition any
	switch typed := snapshot.(type) {
	case map[string]any:
		if def, ok := typed["definition"].(map[string]any); ok {
			rawDefinition = def
		} else if _, ok := typed["nodes"].([]any); ok {
			rawDefinition = typed
		} else if steps, ok := typed["steps"].([]any); ok {
			rawDefinition = steps
		}
	case []any:
		rawDefinition = typed
	}
	if rawDefinition == nil {
		rawDefinition = []any{}
	}

	def, err := workflow.NormalizeDefinition(rawDefinition)
	if err != nil {
		return workflow.StepsToGraph(nil)
	}
	return def
}

// loadInstanceFormData 读实例表单数据，坏数据按空表单处理
func loadInstanceFormData(instance *model.ApprovalInstance) map[string]any {
	var formData map[string]any
	if len(instance.FormData) > 0 {
		if err := json.Unmarshal(instance.FormData, &formData); err == nil && formData != nil {
			return formData
		}
	}
	return map[string]any{}
}

// loadInstanceFormSchema 读实例表单 schema 快照
func loadInstanceFormSchema(instance *model.ApprovalInstance) []workflow.FormField {
	var schema []workflow.FormField
	if len(instance.FormSchema) > 0 {
		if err := json.Unmarshal(instance.FormSchema, &schema); err == nil {
			return schema
		}
	}
	return nil
}

// currentNode 按 current_node_id 找当前节点
func currentNode(instance *model.ApprovalInstance, def *workflow.Definition) *workflow.Node {
	if def == nil {
		def = loadInstanceDefinition(instance)
	}
	return def.NodeByID(instance.CurrentNodeID)
}

// effectivePermission 字段在当前节点的生效权限
type effectivePermission struct {
	CanView  bool `json:"can_view"`
	CanEdit  bool `json:"can_edit"`
	Required bool `json:"required"`
}

// buildFieldPermissionMap 整理节点字段权限：can_edit 依赖 can_view，
// required 依赖 can_edit
func buildFieldPermissionMap(permissions []workflow.FieldPermission) map[string]effectivePermission {
	result := make(map[string]effectivePermission, len(permissions))
	for _, permission := range permissions {
		canView := permission.CanView
		canEdit := permission.CanEdit && canView
		required := permission.Required && canEdit
		result[permission.FieldKey] = effectivePermission{
			CanView:  canView,
			CanEdit:  canEdit,
			Required: required,
		}
	}
	return result
}

func marshalJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}
