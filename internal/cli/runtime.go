package cli

import (
	"fmt"
	"log"

	"github.com/satindergrewal/tonal/internal/audio"
	"github.com/satindergrewal/tonal/internal/catalog"
	"github.com/satindergrewal/tonal/internal/clock"
	"github.com/satindergrewal/tonal/internal/config"
	"github.com/satindergrewal/tonal/internal/device"
	"github.com/satindergrewal/tonal/internal/engine"
	"github.com/satindergrewal/tonal/internal/graph"
	"github.com/satindergrewal/tonal/internal/ledger"
	"github.com/satindergrewal/tonal/internal/mixer"
)

// runtime is the engine and everything around it for one process.
type runtime struct {
	cfg     config.Config
	catalog *catalog.Catalog
	history *ledger.Store
	mixer   *mixer.Mixer
	engine  *engine.Engine
}

// openRuntime loads the catalog and the history store and builds a mixer
// with the configured volumes. The engine is attached by attach once the
// output device exists.
func openRuntime(cfg config.Config) (*runtime, error) {
	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, catalog: cat}
	if cfg.DB != "" {
		if rt.history, err = ledger.Open(cfg.DB); err != nil {
			return nil, err
		}
		log.Printf("History stored in %s", cfg.DB)
	}

	rt.mixer = mixer.New(graph.NewContext(audio.SampleRate), clock.Real{})
	rt.mixer.SetVolume(mixer.Main, cfg.MainVolume)
	rt.mixer.SetVolume(mixer.Layer2, cfg.LayerVolume)
	rt.mixer.SetVolume(mixer.Layer3, cfg.LayerVolume)
	return rt, nil
}

func (rt *runtime) attach(dev device.Device) *engine.Engine {
	rt.engine = engine.New(dev, rt.mixer, clock.Real{}, rt.cfg.Qualifying())
	return rt.engine
}

func (rt *runtime) Close() error {
	var err error
	if rt.engine != nil {
		err = rt.engine.Close()
	}
	if cerr := rt.history.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close history: %w", cerr)
	}
	return err
}
