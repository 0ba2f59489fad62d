package reconciler

import "github.com/cuemby/ridgeline/pkg/types"

// FeatureSource decides, for one feature name on one node, whether a
// reconfigure should keep the live value or take the freshly parsed
// config's value. A node-features plugin (topology/GRES-autodetect
// plugins in the original) is the only thing that marks a feature
// plugin-controlled; everything else follows the config file.
type FeatureSource interface {
	// PluginControlled reports whether featureName on node is owned by a
	// plugin rather than the static config.
	PluginControlled(nodeName, featureName string) bool
}

// staticFeatureSource treats nothing as plugin-controlled: every feature
// always comes from the freshly parsed config. Used when no plugin is
// configured.
type staticFeatureSource struct{}

func (staticFeatureSource) PluginControlled(nodeName, featureName string) bool { return false }

// StaticFeatures is the FeatureSource to use when no node-features
// plugin is active.
var StaticFeatures FeatureSource = staticFeatureSource{}

// ReconcileFeatures merges oldNode's live feature list into newNode's
// freshly parsed one: any feature name source marks plugin-controlled on
// oldNode is preserved from oldNode rather than overwritten; everything
// else comes from newNode's parsed config value. Mutates newNode in
// place and also returns the feature names that were preserved, for the
// caller's reconciliation report.
func ReconcileFeatures(oldNode, newNode *types.Node, source FeatureSource) []string {
	if source == nil {
		source = StaticFeatures
	}

	oldByName := make(map[string]bool, len(oldNode.Features))
	for _, f := range oldNode.Features {
		oldByName[f] = true
	}

	var preserved []string
	merged := make([]string, 0, len(newNode.Features))
	seen := make(map[string]bool, len(newNode.Features))

	for _, f := range oldNode.Features {
		if source.PluginControlled(oldNode.Name, f) {
			merged = append(merged, f)
			seen[f] = true
			preserved = append(preserved, f)
		}
	}
	for _, f := range newNode.Features {
		if seen[f] {
			continue
		}
		merged = append(merged, f)
		seen[f] = true
	}

	newNode.Features = merged
	return preserved
}
