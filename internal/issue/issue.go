// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Id identifies a catalog entry.
type Id int

const (
	VersionNotInstalledId Id = iota + 1
	DefinitionNotFoundId
	ChecksumMismatchId
	BuildFailedId
	DownloadFailedId
	RegistrySyncFailedId
	ConfigLoadFailedId
	InvalidVersionSpecId
	NoVersionRequestedId
	CommandNotFoundId
	PermissionDeniedId
)

type (
	// MarkdownMsg is glamour-renderable markdown.
	MarkdownMsg string

	// HttpLink is an external documentation URL.
	HttpLink string

	// Issue is a catalog entry explaining a class of failure in depth.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the issue as terminal markdown with the given glamour style
// ("auto", "dark", "light", "notty" or a path to a JSON style).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	versionNotInstalledIssue = &Issue{
		id: VersionNotInstalledId,
		mdMsg: `
# Version not installed

The selected version is not present under '$PYVM_ROOT/versions'.

## Things you can try
- Install it:
~~~
$ pyvm install <version>
~~~
- See which file selected it:
~~~
$ pyvm version
~~~
- Pick an installed version instead with 'pyvm local' or 'pyvm global'.`,
	}

	definitionNotFoundIssue = &Issue{
		id: DefinitionNotFoundId,
		mdMsg: `
# No definition for this version

pyvm looked through its definition directories and release feed and found
nothing matching the requested version.

## Things you can try
- Refresh the definitions repository:
~~~
$ pyvm update
~~~
- List what can be installed:
~~~
$ pyvm install --list
~~~`,
	}

	checksumMismatchIssue = &Issue{
		id: ChecksumMismatchId,
		mdMsg: `
# Checksum mismatch

The downloaded archive does not match the SHA256 recorded in its definition.
The cached file was removed so the next attempt downloads it again.

## Things you can try
- Retry the install; transient proxy corruption is the usual cause.
- If a mirror is configured ('fetch.mirror'), check that it serves the same files.`,
	}

	buildFailedIssue = &Issue{
		id: BuildFailedId,
		mdMsg: `
# Build failed

The build script exited with an error. Nothing was installed; the staging
directory was removed.

## Things you can try
- Re-run with '--keep' to inspect the staging directory.
- Install the compiler toolchain and headers your platform needs
  (zlib, openssl, libffi, readline, sqlite).`,
		docLinks: []HttpLink{"https://devguide.python.org/getting-started/setup-building/"},
	}

	downloadFailedIssue = &Issue{
		id: DownloadFailedId,
		mdMsg: `
# Download failed

The archive could not be fetched.

## Things you can try
- Check your network connection and proxy settings.
- Configure a mirror with 'fetch.mirror' in your config file.`,
	}

	registrySyncFailedIssue = &Issue{
		id: RegistrySyncFailedId,
		mdMsg: `
# Could not update definitions

Cloning or fetching the definitions repository failed.

## Things you can try
- Check 'registry.repository' and 'registry.ref' in your config.
- If '$PYVM_ROOT/definitions' exists but is not a git checkout, move it away
  and run 'pyvm update' again.`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration file is invalid

## Things you can try
- Show the effective configuration:
~~~
$ pyvm config show
~~~
- Regenerate a default file with 'pyvm config init'.`,
	}

	invalidVersionSpecIssue = &Issue{
		id: InvalidVersionSpecId,
		mdMsg: `
# Invalid version

Versions look like '3.11.4', '3.12', '3.13.0rc1', 'latest', 'system' or a
flavored name such as 'pypy3.10-7.3.12'. Path separators are not allowed.`,
	}

	noVersionRequestedIssue = &Issue{
		id: NoVersionRequestedId,
		mdMsg: `
# No version requested

'pyvm install' needs a version argument, or the 'PYTHON_VERSION' environment
variable when called from a bootstrap script.

~~~
$ pyvm install 3.11.4
$ PYTHON_VERSION=3.11.4 pyvm install
~~~`,
	}

	commandNotFoundIssue = &Issue{
		id: CommandNotFoundId,
		mdMsg: `
# Command not found

The selected versions do not provide this executable.

## Things you can try
- See which versions do:
~~~
$ pyvm whence <command>
~~~
- Regenerate shims after installing packages with console scripts:
~~~
$ pyvm rehash
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied

pyvm could not write under its root directory.

## Things you can try
- Check ownership of '$PYVM_ROOT'.
- Point 'PYVM_ROOT' at a directory you own.`,
	}

	issues = map[Id]*Issue{
		versionNotInstalledIssue.Id(): versionNotInstalledIssue,
		definitionNotFoundIssue.Id():  definitionNotFoundIssue,
		checksumMismatchIssue.Id():    checksumMismatchIssue,
		buildFailedIssue.Id():         buildFailedIssue,
		downloadFailedIssue.Id():      downloadFailedIssue,
		registrySyncFailedIssue.Id():  registrySyncFailedIssue,
		configLoadFailedIssue.Id():    configLoadFailedIssue,
		invalidVersionSpecIssue.Id():  invalidVersionSpecIssue,
		noVersionRequestedIssue.Id():  noVersionRequestedIssue,
		commandNotFoundIssue.Id():     commandNotFoundIssue,
		permissionDeniedIssue.Id():    permissionDeniedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
