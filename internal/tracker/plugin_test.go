package tracker

import (
	"testing"

	"github.com/HerbHall/apwatch/pkg/plugin"
	"github.com/HerbHall/apwatch/pkg/plugin/plugintest"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}
