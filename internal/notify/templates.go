package notify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Templates 面向用户的通知文案模板。
// 占位符形如 {orderNo}、{fee}，渲染时按变量表替换。
type Templates struct {
	StatusChanged string `yaml:"statusChanged"`
	Progress      string `yaml:"progress"`
	Completed     string `yaml:"completed"`
	Fault         string `yaml:"fault"`
}

// DefaultTemplates 内置默认文案，模板文件缺失时使用
func DefaultTemplates() *Templates {
	return &Templates{
		StatusChanged: "您的充电订单 {orderNo} 当前状态：{status}（{chargeStatus}）",
		Progress:      "充电进行中：已充 {duration} 分钟，{power} 度，费用 {fee} 元",
		Completed:     "充电完成：共 {duration} 分钟，{power} 度，总费用 {fee} 元",
		Fault:         "充电订单 {orderNo} 异常结束：{reason}",
	}
}

// LoadTemplates 从 YAML 文件加载模板，未设置的字段回退到默认文案。
// path 为空时直接返回默认模板。
func LoadTemplates(path string) (*Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	var loaded Templates
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	if loaded.StatusChanged != "" {
		t.StatusChanged = loaded.StatusChanged
	}
	if loaded.Progress != "" {
		t.Progress = loaded.Progress
	}
	if loaded.Completed != "" {
		t.Completed = loaded.Completed
	}
	if loaded.Fault != "" {
		t.Fault = loaded.Fault
	}
	return t, nil
}

// Render 按变量表替换模板中的 {name} 占位符，未知占位符原样保留
func Render(tpl string, vars map[string]string) string {
	if tpl == "" {
		return ""
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
