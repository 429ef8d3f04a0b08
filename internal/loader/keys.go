// Package loader is the composition root of the QMTool runtime. It loads
// the process environment, wires the infrastructure singletons into the
// service container, discovers feature descriptors, computes the boot order
// and registers every admitted feature — enforcing the hard gate that no
// non-infrastructure feature boots until the audit sink is verified.
package loader

// Well-known container keys. Opaque strings, but stable across releases:
// feature modules and the GUI resolve services by these names.
const (
	KeyEnv          = "env"
	KeyDatabase     = "database.service"
	KeyConfigurator = "configurator.service"
	KeyLicensing    = "licensing.service"
	KeyAuditService = "audit.service"
	KeyAuditSink    = "audit.sink"
	KeyAuthService  = "auth.service"
	KeyUserService  = "user.service"
	KeyUserRepo     = "user.repository"
	KeyTranslation  = "translation.service"
)

// Feature ids with infrastructure roles in the boot protocol.
const (
	FeatureDatabase     = "database"
	FeatureConfigurator = "configurator"
	FeatureAudittrail   = "audittrail"
	FeatureLicensing    = "licensing"
	FeatureUserMgmt     = "user_management"
	FeatureAuth         = "authenticator"
	FeatureTranslation  = "translation"
)

// coreInfrastructure ids are exempt from the implicit dependency edges.
var coreInfrastructure = map[string]struct{}{
	FeatureDatabase:     {},
	FeatureConfigurator: {},
	FeatureAudittrail:   {},
}

func isCoreInfrastructure(id string) bool {
	_, ok := coreInfrastructure[id]
	return ok
}
