package static

import (
	"fmt"
	"sort"
	"strings"
)

// listingColumns names the result-table columns in order. Rows with fewer
// cells simply fill fewer fields.
var listingColumns = []string{"index", "drug_name", "approval_number", "manufacturer"}

var defaultRequiredFields = []string{"drug_name", "approval_number", "manufacturer"}

// fieldLabels maps canonical field names to label variants seen across
// registry skins, in priority order. Variants are matched after trimming
// whitespace and a trailing half- or full-width colon, so both
// "批准文号:" and "批准文号：" resolve.
var fieldLabels = []struct {
	canonical string
	variants  []string
}{
	{"drug_name", []string{"药品名称", "产品名称", "通用名称", "Drug Name", "Product Name"}},
	{"approval_number", []string{"批准文号", "注册证号", "国药准字", "Approval Number", "Registration Number"}},
	{"manufacturer", []string{"生产单位", "生产企业", "上市许可持有人", "Manufacturer", "Marketing Authorization Holder"}},
	{"dosage_form", []string{"剂型", "Dosage Form"}},
	{"specification", []string{"规格", "Specification"}},
	{"approval_date", []string{"批准日期", "Approval Date"}},
	{"product_category", []string{"产品类别", "药品类别", "Category"}},
	{"english_name", []string{"英文名称", "English Name"}},
}

func normalizeLabel(label string) string {
	label = strings.TrimSpace(label)
	label = strings.TrimSuffix(label, ":")
	label = strings.TrimSuffix(label, "：")
	return strings.TrimSpace(label)
}

// mapLabels resolves raw label/value pairs to canonical fields. The first
// variant that matches wins; later pairs never overwrite an earlier hit
// for the same canonical name.
func mapLabels(pairs []labelValue) map[string]string {
	byLabel := make(map[string]string, len(pairs))
	for _, p := range pairs {
		label := normalizeLabel(p.label)
		value := strings.TrimSpace(p.value)
		if label == "" || value == "" {
			continue
		}
		if _, ok := byLabel[label]; !ok {
			byLabel[label] = value
		}
	}

	fields := make(map[string]string)
	for _, fl := range fieldLabels {
		for _, variant := range fl.variants {
			if v, ok := byLabel[variant]; ok {
				fields[fl.canonical] = v
				break
			}
		}
	}
	return fields
}

// annotateCompleteness stamps the record with the share of required fields
// present and, when incomplete, which ones are missing.
func annotateCompleteness(fields map[string]string, required []string) {
	if len(required) == 0 {
		return
	}
	var missing []string
	for _, name := range required {
		if fields[name] == "" {
			missing = append(missing, name)
		}
	}
	present := len(required) - len(missing)
	fields["completeness"] = fmt.Sprintf("%d%%", present*100/len(required))
	if len(missing) > 0 {
		sort.Strings(missing)
		fields["missing_fields"] = strings.Join(missing, ",")
	}
}
