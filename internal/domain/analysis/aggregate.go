package analysis

// sentinelLabel marks entries the model could not identify; it never appears
// in the aggregated label list.
const sentinelLabel = "unidentified"

// Summary is the condensed view served by the simplified counting endpoint.
type Summary struct {
	Count  float64
	Labels []string
}

// Aggregate folds a list result into a total count and a deduplicated label
// list. Only list results contribute; object and raw results aggregate to
// zero. An entry counts only if it is an object carrying a "quantity" key;
// its label joins the list unless empty or the sentinel. Labels keep their
// first-seen order.
func Aggregate(result Result) Summary {
	summary := Summary{Labels: []string{}}
	if result.Kind != KindList {
		return summary
	}

	seen := make(map[string]struct{})
	for _, entry := range result.Entries {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := item["quantity"]; !ok {
			continue
		}

		if quantity, ok := item["quantity"].(float64); ok {
			summary.Count += quantity
		}

		label, _ := item["label"].(string)
		if label == "" || label == sentinelLabel {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		summary.Labels = append(summary.Labels, label)
	}

	return summary
}
