package services

import (
	"strings"

	"github.com/agent-mesh/agent-mesh/pkg/models"
)

// RootPath addresses the whole content tree.
const RootPath = "/"

// splitPath parses a slash-separated path into its segments. The root path
// yields no segments.
func splitPath(path string) ([]string, error) {
	if path == "" || path == RootPath {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, invalidArgf("path must start with /: %q", path)
	}

	segments := strings.Split(path[1:], "/")
	for _, segment := range segments {
		if segment == "" {
			return nil, invalidArgf("path contains an empty segment: %q", path)
		}
	}
	return segments, nil
}

// joinPath builds a slash-separated path from a prefix and a key.
func joinPath(prefix, key string) string {
	return prefix + "/" + key
}

// valueAtPath returns the value stored at the path, or the absent marker
// when any step of the descent is missing.
func valueAtPath(tree map[string]interface{}, segments []string) interface{} {
	if len(segments) == 0 {
		return tree
	}

	current := tree
	for i, segment := range segments {
		value, exists := current[segment]
		if !exists {
			return models.ValueAbsent
		}
		if i == len(segments)-1 {
			return value
		}
		current = models.AsTree(value)
		if current == nil {
			return models.ValueAbsent
		}
	}
	return models.ValueAbsent
}

// setValueAtPath writes the value at the path, creating intermediate trees
// for missing or non-tree steps. Setting the root replaces the whole tree.
func setValueAtPath(tree map[string]interface{}, segments []string, value interface{}) map[string]interface{} {
	if len(segments) == 0 {
		replacement := models.AsTree(models.DeepCopyValue(value))
		if replacement == nil {
			replacement = map[string]interface{}{}
		}
		return replacement
	}

	current := tree
	for _, segment := range segments[:len(segments)-1] {
		child := models.AsTree(current[segment])
		if child == nil {
			child = map[string]interface{}{}
			current[segment] = child
		}
		current = child
	}
	current[segments[len(segments)-1]] = models.DeepCopyValue(value)
	return tree
}

// deleteValueAtPath removes the value at the path. Deleting the root clears
// the tree. Missing paths are a no-op.
func deleteValueAtPath(tree map[string]interface{}, segments []string) map[string]interface{} {
	if len(segments) == 0 {
		return map[string]interface{}{}
	}

	current := tree
	for _, segment := range segments[:len(segments)-1] {
		current = models.AsTree(current[segment])
		if current == nil {
			return tree
		}
	}
	delete(current, segments[len(segments)-1])
	return tree
}

// applyChangeToTree applies one recorded change and returns the resulting
// root, which differs from the input only when the root itself is replaced.
func applyChangeToTree(tree map[string]interface{}, change models.ContextChange) (map[string]interface{}, error) {
	segments, err := splitPath(change.Path)
	if err != nil {
		return nil, err
	}

	switch change.Operation {
	case models.ChangeOperationCreate, models.ChangeOperationUpdate, models.ChangeOperationMerge:
		return setValueAtPath(tree, segments, change.NewValue), nil
	case models.ChangeOperationDelete:
		return deleteValueAtPath(tree, segments), nil
	default:
		return nil, invalidArgf("unknown change operation: %q", change.Operation)
	}
}

// replayToVersion reconstructs content by walking from the initial version
// to the target along parent links and applying each change in order.
func replayToVersion(versions []*models.ContextVersion, targetVersionID string) (models.JSONMap, error) {
	byID := make(map[string]*models.ContextVersion, len(versions))
	for _, v := range versions {
		byID[v.ID] = v
	}

	target, ok := byID[targetVersionID]
	if !ok {
		return nil, notFoundf("version %s", targetVersionID)
	}

	chain := make([]*models.ContextVersion, 0, len(versions))
	for v := target; v != nil; {
		chain = append(chain, v)
		if v.ParentVersionID == nil {
			break
		}
		parent, exists := byID[*v.ParentVersionID]
		if !exists {
			return nil, notFoundf("parent version %s", *v.ParentVersionID)
		}
		v = parent
	}

	tree := map[string]interface{}{}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, change := range chain[i].Changes {
			var err error
			tree, err = applyChangeToTree(tree, change)
			if err != nil {
				return nil, err
			}
		}
	}
	return models.JSONMap(tree), nil
}

// ValueChange records one modified path in a tree comparison.
type ValueChange struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// TreeDiff is the recursive difference between two content trees. Paths are
// slash-joined from the root.
type TreeDiff struct {
	Added    map[string]interface{} `json:"added"`
	Removed  map[string]interface{} `json:"removed"`
	Modified map[string]ValueChange `json:"modified"`
}

// IsEmpty reports whether the two trees were identical.
func (d *TreeDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// diffTrees compares two trees recursively. Keys present only in "to" are
// added, keys present only in "from" are removed, and leaves that differ
// are modified with their before and after values.
func diffTrees(from, to map[string]interface{}) *TreeDiff {
	diff := &TreeDiff{
		Added:    map[string]interface{}{},
		Removed:  map[string]interface{}{},
		Modified: map[string]ValueChange{},
	}
	diffSubtrees(from, to, "", diff)
	return diff
}

func diffSubtrees(from, to map[string]interface{}, prefix string, diff *TreeDiff) {
	for key, toValue := range to {
		path := joinPath(prefix, key)
		fromValue, exists := from[key]
		if !exists {
			diff.Added[path] = models.DeepCopyValue(toValue)
			continue
		}

		fromTree, toTree := models.AsTree(fromValue), models.AsTree(toValue)
		if fromTree != nil && toTree != nil {
			diffSubtrees(fromTree, toTree, path, diff)
			continue
		}

		if !models.ValueEqual(fromValue, toValue) {
			diff.Modified[path] = ValueChange{
				From: models.DeepCopyValue(fromValue),
				To:   models.DeepCopyValue(toValue),
			}
		}
	}

	for key, fromValue := range from {
		if _, exists := to[key]; !exists {
			diff.Removed[joinPath(prefix, key)] = models.DeepCopyValue(fromValue)
		}
	}
}

// Merge resolutions for MergeContexts.
const (
	MergeResolutionSource = "source"
	MergeResolutionTarget = "target"
	MergeResolutionLatest = "latest"
)

// mergeTrees merges the source tree into a copy of the target. Keys present
// on one side only are taken as-is; when both sides hold trees the merge
// recurses; otherwise the resolution decides which side wins. "latest"
// takes the source, since merging in is the later write.
func mergeTrees(target, source map[string]interface{}, resolution string) map[string]interface{} {
	merged := models.AsTree(models.DeepCopyValue(target))
	if merged == nil {
		merged = map[string]interface{}{}
	}

	for key, sourceValue := range source {
		targetValue, exists := merged[key]
		if !exists {
			merged[key] = models.DeepCopyValue(sourceValue)
			continue
		}

		targetTree, sourceTree := models.AsTree(targetValue), models.AsTree(sourceValue)
		if targetTree != nil && sourceTree != nil {
			merged[key] = mergeTrees(targetTree, sourceTree, resolution)
			continue
		}

		switch resolution {
		case MergeResolutionSource, MergeResolutionLatest:
			merged[key] = models.DeepCopyValue(sourceValue)
		case MergeResolutionTarget:
			// keep target value
		}
	}
	return merged
}
