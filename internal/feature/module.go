package feature

import (
	"github.com/layzieshin/QMToolV6-sub000/internal/appenv"
	"github.com/layzieshin/QMToolV6-sub000/internal/container"
)

// Module is the per-feature registration contract consumed by the loader.
// A feature contributes its services during Register and may perform
// post-boot work in Start. Both hooks are optional function values so
// built-in features can be described as plain table entries.
type Module struct {
	ID       string
	Register func(reg *container.Registry, env *appenv.AppEnv) error
	Start    func(reg *container.Registry) error
}
