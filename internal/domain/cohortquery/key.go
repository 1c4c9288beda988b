package cohortquery

import "fmt"

const cohortDefinitionPrefix = LibraryNamespace + ".cohortDefinition.builtIn"

// ResolveKey maps a criterion field and its value to a built-in cohort
// definition key. Gender is keyed by its value (males, females) so that
// each gender has its own definition; every other field shares one key per
// field regardless of value.
func ResolveKey(field string, value any) string {
	switch field {
	case "gender":
		return fmt.Sprintf("%s.%v", cohortDefinitionPrefix, value)
	default:
		return cohortDefinitionPrefix + "." + field
	}
}
