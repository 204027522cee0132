package orchestrator

import (
	"git.home.luguber.info/inful/kbuild/internal/config"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/models"
	"git.home.luguber.info/inful/kbuild/internal/orchestrator/stages"
	"git.home.luguber.info/inful/kbuild/internal/symbols"
	"git.home.luguber.info/inful/kbuild/internal/toolexec"
)

func set(key string) models.Predicate {
	return func(bs *models.BuildState) bool { return bs.Config.Has(key) }
}

func enabled(key string) models.Predicate {
	return func(bs *models.BuildState) bool { return bs.Config.Bool(key) }
}

func disabled(key string) models.Predicate {
	return func(bs *models.BuildState) bool { return !bs.Config.Bool(key) }
}

func all(preds ...models.Predicate) models.Predicate {
	return func(bs *models.BuildState) bool {
		for _, p := range preds {
			if !p(bs) {
				return false
			}
		}
		return true
	}
}

func mixedBuild(bs *models.BuildState) bool {
	return bs.Config.Has(config.KeyGKIBuildConfig) || bs.Config.Has(config.KeyGKIPrebuiltsDir)
}

func extModules(bs *models.BuildState) bool {
	return bs.Config.Has(config.KeyExtModules) && !bs.Config.Bool(config.KeySkipExtModules)
}

func bootImages(bs *models.BuildState) bool {
	return bs.Config.Bool(config.KeyBuildBootImg) || bs.Config.Bool(config.KeyBuildVendorBootImg)
}

// Pipeline returns the stage definitions of a build in execution order.
func Pipeline(cfg *config.BuildConfig, tk *stages.Toolkit) []models.StageDef {
	symbolsOn := func(*models.BuildState) bool { return tk.Symbols.Enabled() }
	strict := func(*models.BuildState) bool { return tk.Symbols.Mode() == symbols.ModeTrimStrict }

	p := models.NewPipeline().
		Add(models.StagePrepare, tk.Prepare).
		AddWhen(models.StageMixedBuild, mixedBuild, tk.MixedBuild).
		AddWhen(models.StageMrproper, disabled(config.KeySkipMrproper), tk.Mrproper).
		AddWhen(models.StageHookPreDefconfig, set(config.KeyPreDefconfigCmds), tk.Hook(toolexec.HookPreDefconfig)).
		AddWhen(models.StageDefconfig, disabled(config.KeySkipDefconfig), tk.Defconfig).
		AddWhen(models.StageHookPostDefconfig, all(disabled(config.KeySkipDefconfig), set(config.KeyPostDefconfigCmds)), tk.Hook(toolexec.HookPostDefconfig)).
		AddWhen(models.StageLTOConfig, set(config.KeyLTO), tk.LTOConfig).
		AddWhen(models.StageVersionShortcut, enabled(config.KeySkipIfVersionMatch), tk.VersionShortcut).
		AddWhen(models.StageTags, set(config.KeyTagsConfig), tk.Tags).
		AddWhen(models.StageSymbolListPrepare, symbolsOn, tk.SymbolListPrepare).
		Add(models.StageCompile, tk.Compile).
		AddWhen(models.StageHookPostCompile, set(config.KeyPostKernelBuildCmds), tk.Hook(toolexec.HookPostCompile)).
		AddWhen(models.StageSymbolListVerify, strict, tk.SymbolListVerify)

	if cfg.Bool(config.KeyStopShipTracePrintk) {
		p.Add(models.StageTracePrintkCheck, tk.TracePrintkCheck)
	} else {
		p.AddBestEffort(models.StageTracePrintkCheck, nil, tk.TracePrintkCheck)
	}

	return p.
		AddWhen(models.StageModulesInstall, enabled(config.KeyInKernelModules), tk.ModulesInstall).
		AddWhen(models.StageExtModules, extModules, tk.ExtModules).
		AddWhen(models.StageHookPostInstall, set(config.KeyExtraCmds), tk.Hook(toolexec.HookPostInstall)).
		Add(models.StageDistFiles, tk.DistFiles).
		AddWhen(models.StageUAPIHeaders, disabled(config.KeySkipCpKernelHdr), tk.UAPIHeaders).
		AddWhen(models.StageUnstrippedModules, set(config.KeyUnstrippedModules), tk.UnstrippedModules).
		AddWhen(models.StageInitramfs, enabled(config.KeyBuildInitramfs), tk.Initramfs).
		AddWhen(models.StageSystemDLKM, enabled(config.KeyBuildSystemDLKM), tk.SystemDLKM).
		AddWhen(models.StageVendorDLKM, enabled(config.KeyBuildVendorDLKM), tk.VendorDLKM).
		AddWhen(models.StageBootImages, bootImages, tk.BootImages).
		Add(models.StageABIManifest, tk.ABIManifest).
		AddWhen(models.StageHookPostDist, set(config.KeyDistCmds), tk.Hook(toolexec.HookPostDist)).
		Build()
}
