package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/plugins/activityanalyzer"
	"github.com/l0p7/pluginrt/internal/plugins/adrenderer"
	"github.com/l0p7/pluginrt/internal/plugins/audiencefeed"
	"github.com/l0p7/pluginrt/internal/plugins/bidoptimizer"
	"github.com/l0p7/pluginrt/internal/plugins/computedfield"
	"github.com/l0p7/pluginrt/internal/plugins/customaction"
	"github.com/l0p7/pluginrt/internal/plugins/emailrenderer"
	"github.com/l0p7/pluginrt/internal/plugins/emailrouter"
	"github.com/l0p7/pluginrt/internal/plugins/recommender"
)

// kinds maps plugin.kind to a constructor running the kind's sample handler.
var kinds = map[string]func(plugins.Deps) plugins.Plugin{
	activityanalyzer.Name: func(d plugins.Deps) plugins.Plugin { return activityanalyzer.New(d, activityanalyzer.Sample{}) },
	adrenderer.Name:       func(d plugins.Deps) plugins.Plugin { return adrenderer.New(d, adrenderer.Sample{}) },
	audiencefeed.Name:     func(d plugins.Deps) plugins.Plugin { return audiencefeed.New(d, audiencefeed.Sample{}) },
	bidoptimizer.Name:     func(d plugins.Deps) plugins.Plugin { return bidoptimizer.New(d, bidoptimizer.Sample{}) },
	computedfield.Name:    func(d plugins.Deps) plugins.Plugin { return computedfield.New(d, computedfield.Sample{}) },
	customaction.Name:     func(d plugins.Deps) plugins.Plugin { return customaction.New(d, customaction.Sample{}) },
	emailrenderer.Name:    func(d plugins.Deps) plugins.Plugin { return emailrenderer.New(d, emailrenderer.Sample{}) },
	emailrouter.Name:      func(d plugins.Deps) plugins.Plugin { return emailrouter.New(d, emailrouter.Sample{}) },
	recommender.Name:      func(d plugins.Deps) plugins.Plugin { return recommender.New(d, recommender.Sample{}) },
}

func newPlugin(kind string, deps plugins.Deps) (plugins.Plugin, error) {
	build, ok := kinds[strings.TrimSpace(kind)]
	if !ok {
		return nil, fmt.Errorf("unknown plugin kind %q (known: %s)", kind, strings.Join(knownKinds(), ", "))
	}
	return build(deps), nil
}

func knownKinds() []string {
	return slices.Sorted(maps.Keys(kinds))
}
