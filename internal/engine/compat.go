package engine

import (
	"planline/internal/config"
	"planline/internal/domain"
)

// ContextCompatibility grades a task context against a block. FALLBACK
// covers the block's alternate contexts and the configured equivalence
// sets; the sets are static configuration, never inferred.
func ContextCompatibility(taskCtx string, b domain.EnergyBlock, cfg *config.Config) string {
	if taskCtx == "" || taskCtx == b.PrimaryContext {
		return domain.CompatExact
	}
	for _, alt := range b.AlternateContexts {
		if alt == taskCtx {
			return domain.CompatFallback
		}
	}
	if cfg != nil {
		for _, eq := range cfg.EquivalentContexts(taskCtx) {
			if eq == b.PrimaryContext {
				return domain.CompatFallback
			}
		}
	}
	return domain.CompatIncompatible
}

// EnergyCompatibility grades a task's required energy against a block's
// effective level. A task without a requirement fits any block exactly.
// Otherwise exact means the same level; a block of equal or higher rank
// satisfies a lower-ranked task as a fallback, and a lower-ranked block
// never hosts a higher-ranked task.
func EnergyCompatibility(taskEnergy *string, blockEnergy string) string {
	if taskEnergy == nil || *taskEnergy == "" {
		return domain.CompatExact
	}
	if *taskEnergy == blockEnergy {
		return domain.CompatExact
	}
	if domain.EnergyRank(blockEnergy) >= domain.EnergyRank(*taskEnergy) {
		return domain.CompatFallback
	}
	return domain.CompatIncompatible
}

// pairTier ranks a (context, energy) grade pair for the placement scan.
// Lower is better; -1 is unplaceable. Context exactness dominates so a
// fallback context is only accepted once no exact-context slot exists
// anywhere in the horizon.
func pairTier(ctxGrade, energyGrade string) int {
	if ctxGrade == domain.CompatIncompatible || energyGrade == domain.CompatIncompatible {
		return -1
	}
	tier := 0
	if ctxGrade == domain.CompatFallback {
		tier += 2
	}
	if energyGrade == domain.CompatFallback {
		tier++
	}
	return tier
}

// recordCompatibility is the grade stamped on a scheduled task: fallback
// when either dimension fell back.
func recordCompatibility(ctxGrade, energyGrade string) string {
	if ctxGrade == domain.CompatFallback || energyGrade == domain.CompatFallback {
		return domain.CompatFallback
	}
	return domain.CompatExact
}
