package provider

import "sort"

// TruncateDimensions returns a copy of dims holding at most MaxDimensions
// pairs, keeping the lowest keys in lexical order.
func TruncateDimensions(dims map[string]string) map[string]string {
	if len(dims) <= MaxDimensions {
		out := make(map[string]string, len(dims))
		for k, v := range dims {
			out[k] = v
		}
		return out
	}
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, MaxDimensions)
	for _, k := range keys[:MaxDimensions] {
		out[k] = dims[k]
	}
	return out
}
