package config

import "strings"

// Kind is the value type of a recognized option.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindList // whitespace separated
	KindPath // resolved against the root directory
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindPath:
		return "path"
	case KindEnum:
		return "enum"
	default:
		return "string"
	}
}

// Option declares one recognized configuration key.
type Option struct {
	Key     string
	Kind    Kind
	Default string
	Allowed []string
	Help    string
}

// ChildPrefix marks keys that apply to the GKI sub-build of a mixed build.
const ChildPrefix = "GKI_"

// Keys consumed by stages. Kept as constants so a misspelling is a compile error.
const (
	KeyBuildConfig          = "BUILD_CONFIG"
	KeyBuildConfigFragments = "BUILD_CONFIG_FRAGMENTS"
	KeyKernelDir            = "KERNEL_DIR"
	KeyOutDir               = "OUT_DIR"
	KeyDistDir              = "DIST_DIR"
	KeyBranch               = "BRANCH"
	KeyGKIOutDir            = "GKI_OUT_DIR"
	KeyGKIDistDir           = "GKI_DIST_DIR"
	KeyModulesStagingDir    = "MODULES_STAGING_DIR"

	KeyArch               = "ARCH"
	KeyCrossCompile       = "CROSS_COMPILE"
	KeyCrossCompileCompat = "CROSS_COMPILE_COMPAT"
	KeyCC                 = "CC"
	KeyLD                 = "LD"
	KeyLLVM               = "LLVM"
	KeyLLVMIAS            = "LLVM_IAS"
	KeyHostCC             = "HOSTCC"
	KeyHostLD             = "HOSTLD"
	KeyDepmod             = "DEPMOD"
	KeyDTC                = "DTC"
	KeyMakeJobs           = "MAKE_JOBS"

	KeyDefconfig          = "DEFCONFIG"
	KeyMakeGoals          = "MAKE_GOALS"
	KeyFiles              = "FILES"
	KeyInKernelModules    = "IN_KERNEL_MODULES"
	KeyExtModules         = "EXT_MODULES"
	KeyKconfigExtPrefix   = "KCONFIG_EXT_PREFIX"
	KeyDoNotStripModules  = "DO_NOT_STRIP_MODULES"
	KeyLTO                = "LTO"
	KeyTagsConfig         = "TAGS_CONFIG"
	KeySkipMrproper       = "SKIP_MRPROPER"
	KeySkipDefconfig      = "SKIP_DEFCONFIG"
	KeySkipIfVersionMatch = "SKIP_IF_VERSION_MATCHES"
	KeySkipExtModules     = "SKIP_EXT_MODULES"
	KeySkipCpKernelHdr    = "SKIP_CP_KERNEL_HDR"

	KeyPreDefconfigCmds    = "PRE_DEFCONFIG_CMDS"
	KeyPostDefconfigCmds   = "POST_DEFCONFIG_CMDS"
	KeyPostKernelBuildCmds = "POST_KERNEL_BUILD_CMDS"
	KeyExtraCmds           = "EXTRA_CMDS"
	KeyDistCmds            = "DIST_CMDS"

	KeyGKIBuildConfig  = "GKI_BUILD_CONFIG"
	KeyGKIPrebuiltsDir = "GKI_PREBUILTS_DIR"

	KeyKMISymbolList           = "KMI_SYMBOL_LIST"
	KeyAdditionalKMISymbolList = "ADDITIONAL_KMI_SYMBOL_LISTS"
	KeyTrimNonlistedKMI        = "TRIM_NONLISTED_KMI"
	KeyKMIStrictMode           = "KMI_SYMBOL_LIST_STRICT_MODE"
	KeyKMIStrictModeObjects    = "KMI_STRICT_MODE_OBJECTS"
	KeyABIDefinition           = "ABI_DEFINITION"
	KeyKMIEnforced             = "KMI_ENFORCED"

	KeyModulesList                = "MODULES_LIST"
	KeyModulesBlocklist           = "MODULES_BLOCKLIST"
	KeyBuildInitramfs             = "BUILD_INITRAMFS"
	KeyBuildSystemDLKM            = "BUILD_SYSTEM_DLKM"
	KeySystemDLKMModulesList      = "SYSTEM_DLKM_MODULES_LIST"
	KeySystemDLKMModulesBlocklist = "SYSTEM_DLKM_MODULES_BLOCKLIST"
	KeyBuildVendorDLKM            = "BUILD_VENDOR_DLKM"
	KeyVendorDLKMModulesList      = "VENDOR_DLKM_MODULES_LIST"
	KeyVendorDLKMModulesBlocklist = "VENDOR_DLKM_MODULES_BLOCKLIST"
	KeyDLKMFsType                 = "DLKM_FS_TYPE"
	KeyBuildBootImg               = "BUILD_BOOT_IMG"
	KeyBuildVendorBootImg         = "BUILD_VENDOR_BOOT_IMG"
	KeySkipVendorBoot             = "SKIP_VENDOR_BOOT"
	KeyBootImageHeaderVersion     = "BOOT_IMAGE_HEADER_VERSION"
	KeyUnstrippedModules          = "UNSTRIPPED_MODULES"
	KeyCompressUnstrippedModules  = "COMPRESS_UNSTRIPPED_MODULES"
	KeyUnstrippedModulesArchive   = "UNSTRIPPED_MODULES_ARCHIVE"
	KeyStopShipTracePrintk        = "STOP_SHIP_TRACEPRINTK"
)

// Options is the registry of every recognized key.
var Options = []Option{
	{Key: KeyBuildConfig, Kind: KindPath, Default: "build.config", Help: "base configuration file"},
	{Key: KeyBuildConfigFragments, Kind: KindList, Help: "configuration fragments applied over the base file"},
	{Key: KeyKernelDir, Kind: KindPath, Default: "common", Help: "kernel source tree"},
	{Key: KeyOutDir, Kind: KindPath, Help: "common output directory"},
	{Key: KeyDistDir, Kind: KindPath, Help: "distribution directory"},
	{Key: KeyBranch, Kind: KindString, Help: "branch name used in the default output directory"},
	{Key: KeyGKIOutDir, Kind: KindPath, Help: "output directory of the GKI sub-build"},
	{Key: KeyGKIDistDir, Kind: KindPath, Help: "distribution directory of the GKI sub-build"},
	{Key: KeyModulesStagingDir, Kind: KindPath, Help: "module staging root"},

	{Key: KeyArch, Kind: KindString, Help: "target architecture"},
	{Key: KeyCrossCompile, Kind: KindString, Help: "cross toolchain prefix"},
	{Key: KeyCrossCompileCompat, Kind: KindString, Help: "compat vDSO toolchain prefix"},
	{Key: KeyCC, Kind: KindString, Help: "C compiler"},
	{Key: KeyLD, Kind: KindString, Help: "linker"},
	{Key: KeyLLVM, Kind: KindString, Help: "use the LLVM toolchain"},
	{Key: KeyLLVMIAS, Kind: KindString, Help: "use the LLVM integrated assembler"},
	{Key: KeyHostCC, Kind: KindString, Help: "host C compiler"},
	{Key: KeyHostLD, Kind: KindString, Help: "host linker"},
	{Key: KeyDepmod, Kind: KindString, Default: "depmod", Help: "depmod binary"},
	{Key: KeyDTC, Kind: KindString, Help: "device tree compiler"},
	{Key: KeyMakeJobs, Kind: KindString, Help: "parallel make jobs (defaults to host CPU count)"},

	{Key: KeyDefconfig, Kind: KindString, Help: "defconfig target"},
	{Key: KeyMakeGoals, Kind: KindList, Default: "vmlinux modules", Help: "make targets for the compile stage"},
	{Key: KeyFiles, Kind: KindList, Default: "vmlinux System.map", Help: "kernel out files copied into the distribution"},
	{Key: KeyInKernelModules, Kind: KindBool, Help: "install in-tree modules"},
	{Key: KeyExtModules, Kind: KindList, Help: "external module directories"},
	{Key: KeyKconfigExtPrefix, Kind: KindString, Help: "prefix for external Kconfig sources"},
	{Key: KeyDoNotStripModules, Kind: KindBool, Help: "install modules with debug info"},
	{Key: KeyLTO, Kind: KindEnum, Allowed: []string{"none", "thin", "full"}, Help: "link-time optimization mode"},
	{Key: KeyTagsConfig, Kind: KindString, Help: "generate tags for this config and exit"},
	{Key: KeySkipMrproper, Kind: KindBool, Help: "skip cleaning the output directory"},
	{Key: KeySkipDefconfig, Kind: KindBool, Help: "skip regenerating the kernel configuration"},
	{Key: KeySkipIfVersionMatch, Kind: KindBool, Help: "exit early when the distributed kernel matches the source version"},
	{Key: KeySkipExtModules, Kind: KindBool, Help: "skip external module compilation"},
	{Key: KeySkipCpKernelHdr, Kind: KindBool, Help: "skip kernel header packaging"},

	{Key: KeyPreDefconfigCmds, Kind: KindString, Help: "command run before defconfig"},
	{Key: KeyPostDefconfigCmds, Kind: KindString, Help: "command run after defconfig"},
	{Key: KeyPostKernelBuildCmds, Kind: KindString, Help: "command run after compilation"},
	{Key: KeyExtraCmds, Kind: KindString, Help: "command run after module installation"},
	{Key: KeyDistCmds, Kind: KindString, Help: "command run after distribution"},

	{Key: KeyGKIBuildConfig, Kind: KindPath, Help: "build GKI from source with this configuration (mixed build)"},
	{Key: KeyGKIPrebuiltsDir, Kind: KindPath, Help: "use GKI prebuilts from this directory (mixed build)"},

	{Key: KeyKMISymbolList, Kind: KindPath, Help: "primary KMI symbol list, relative to KERNEL_DIR"},
	{Key: KeyAdditionalKMISymbolList, Kind: KindList, Help: "secondary KMI symbol lists, relative to KERNEL_DIR"},
	{Key: KeyTrimNonlistedKMI, Kind: KindBool, Help: "unexport symbols not on the KMI symbol list"},
	{Key: KeyKMIStrictMode, Kind: KindBool, Help: "fail when exported symbols differ from the KMI symbol list"},
	{Key: KeyKMIStrictModeObjects, Kind: KindList, Default: "vmlinux", Help: "objects whose exports are compared in strict mode"},
	{Key: KeyABIDefinition, Kind: KindPath, Help: "ABI definition, relative to KERNEL_DIR"},
	{Key: KeyKMIEnforced, Kind: KindBool, Help: "mark the KMI as enforced in abi.prop"},

	{Key: KeyModulesList, Kind: KindPath, Help: "initramfs module allow-list"},
	{Key: KeyModulesBlocklist, Kind: KindPath, Help: "initramfs module block-list"},
	{Key: KeyBuildInitramfs, Kind: KindBool, Help: "build the initramfs"},
	{Key: KeyBuildSystemDLKM, Kind: KindBool, Help: "build the system_dlkm image"},
	{Key: KeySystemDLKMModulesList, Kind: KindPath, Help: "system_dlkm module allow-list"},
	{Key: KeySystemDLKMModulesBlocklist, Kind: KindPath, Help: "system_dlkm module block-list"},
	{Key: KeyBuildVendorDLKM, Kind: KindBool, Help: "build the vendor_dlkm image"},
	{Key: KeyVendorDLKMModulesList, Kind: KindPath, Help: "vendor_dlkm module allow-list"},
	{Key: KeyVendorDLKMModulesBlocklist, Kind: KindPath, Help: "vendor_dlkm module block-list"},
	{Key: KeyDLKMFsType, Kind: KindEnum, Default: "erofs", Allowed: []string{"erofs", "ext4"}, Help: "DLKM image filesystem"},
	{Key: KeyBuildBootImg, Kind: KindBool, Help: "build boot.img"},
	{Key: KeyBuildVendorBootImg, Kind: KindBool, Help: "force building vendor_boot.img"},
	{Key: KeySkipVendorBoot, Kind: KindBool, Help: "skip building vendor_boot.img"},
	{Key: KeyBootImageHeaderVersion, Kind: KindString, Default: "3", Help: "boot image header version passed to mkbootimg"},
	{Key: KeyUnstrippedModules, Kind: KindList, Help: "unstripped modules to distribute"},
	{Key: KeyCompressUnstrippedModules, Kind: KindBool, Help: "archive unstripped modules"},
	{Key: KeyUnstrippedModulesArchive, Kind: KindString, Default: "unstripped_modules.tar.gz", Help: "archive name for unstripped modules"},
	{Key: KeyStopShipTracePrintk, Kind: KindBool, Help: "fail when trace_printk is present in vmlinux"},
}

var optionIndex = func() map[string]Option {
	idx := make(map[string]Option, len(Options))
	for _, o := range Options {
		idx[o.Key] = o
	}
	return idx
}()

// Lookup returns the declaration for key.
func Lookup(key string) (Option, bool) {
	o, ok := optionIndex[key]
	return o, ok
}

// Recognized reports whether key is a declared option or a child-prefixed
// form of one.
func Recognized(key string) bool {
	for {
		if _, ok := optionIndex[key]; ok {
			return true
		}
		trimmed, found := strings.CutPrefix(key, ChildPrefix)
		if !found || trimmed == "" {
			return false
		}
		key = trimmed
	}
}
