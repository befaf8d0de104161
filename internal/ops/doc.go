// Package ops holds the lowering rules of the supported source operators.
//
// Rules are grouped by family (selection_ops.go, ranking_ops.go). Each family
// contributes mappers to the table that Register installs into a registry;
// nothing registers itself at import time.
//
// Supported source operators and their handler versions:
//
//	where_index   [9, 13]   9
//	index_select  [1, 12]   1
//	top_k         [11, +inf) 11
//	top_k_v2      [11, +inf) 11
//	argsort       [1, 12]   1, 10, 11
package ops
