// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Id identifies a known failure class in the troubleshooting catalog.
type Id int

const (
	ElevatedPrivilegesId Id = iota + 1
	ConfigLoadFailedId
	UnsupportedPlatformId
	UnsupportedVersionId
	CatalogUnreachableId
	ToolkitDownloadFailedId
	GitNotFoundId
	ScriptsCheckoutFailedId
	DeployFailedId
	MountBusyId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to look up the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // project documentation links
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n## See also:\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	elevatedPrivilegesIssue = &Issue{
		id: ElevatedPrivilegesId,
		mdMsg: `
# Elevated privileges required!

Deploying a DSM build environment mounts pseudo-filesystems (proc, sys, dev)
into a chroot, which the kernel only permits as root. The check runs before
anything is downloaded or created, so nothing needs to be cleaned up.

## Things you can try:
- Re-run under sudo:
~~~
$ sudo teleport-spk build --processor avoton
~~~

- On systems without sudo, switch to the root account first.`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the teleport-spk configuration file.

## Configuration file locations:
1. The path given via --config
2. $XDG_CONFIG_HOME/teleport-spk/config.cue (usually ~/.config/teleport-spk/config.cue)
3. config.cue in the current directory

## Things you can try:
- Create a default configuration:
~~~
$ teleport-spk config init
~~~

- Check the error message above for the offending field
- Remove the config file to fall back to built-in defaults

## Example configuration:
~~~cue
cache_path: "/var/cache/syno-build"
timeout:    "45m"
~~~`,
	}

	unsupportedPlatformIssue = &Issue{
		id: UnsupportedPlatformId,
		mdMsg: `
# Unknown processor platform!

The processor family you specified is not part of the DSM toolchain catalog.
Platform validation happens before any network request, so a typo costs nothing.

## Things you can try:
- List every supported platform:
~~~
$ teleport-spk platforms
~~~

- Platform names are lowercase single words, e.g. "avoton", "apollolake"
- Look up which platform your NAS model uses in Synology's CPU table (link below)`,
		extLinks: []HttpLink{
			"https://kb.synology.com/en-us/DSM/tutorial/What_kind_of_CPU_does_my_NAS_have",
		},
	}

	unsupportedVersionIssue = &Issue{
		id: UnsupportedVersionId,
		mdMsg: `
# Unsupported DSM version!

The DSM version you specified has no published toolchain branch.

## Things you can try:
- List the versions the catalog currently publishes:
~~~
$ teleport-spk versions
~~~

- Omit --dsm-version to build against the newest release
- Use major.minor form: "7.1", not "7.1.1-42962"`,
	}

	catalogUnreachableIssue = &Issue{
		id: CatalogUnreachableId,
		mdMsg: `
# Release catalog unreachable!

Could not query the DSM release catalog for published toolchain versions
or toolkit artifacts.

## Things you can try:
- Check your network connection and proxy settings (HTTPS_PROXY)
- Retry in a few minutes; the endpoint occasionally throttles
- If you run a mirror, verify branches_url and toolkit_url in your config:
~~~
$ teleport-spk config show
~~~`,
	}

	toolkitDownloadFailedIssue = &Issue{
		id: ToolkitDownloadFailedId,
		mdMsg: `
# Toolkit download failed!

One of the toolchain tarballs could not be downloaded into the workspace.

## Things you can try:
- Check free disk space in the cache directory and in /tmp
- Retry the build; interrupted downloads are discarded, never reused
- Inspect what the cache currently holds:
~~~
$ teleport-spk cache list
~~~

- Start over from a clean cache:
~~~
$ sudo teleport-spk cache clear
~~~`,
	}

	gitNotFoundIssue = &Issue{
		id: GitNotFoundId,
		mdMsg: `
# git not found!

Checking out the DSM build scripts requires the git command-line tool.

## Things you can try:
- Install git:
  - Debian/Ubuntu: ` + "`sudo apt install git`" + `
  - Fedora: ` + "`sudo dnf install git`" + `
  - Alpine: ` + "`sudo apk add git`" + `

- Verify it is reachable from PATH:
~~~
$ git --version
~~~`,
	}

	scriptsCheckoutFailedIssue = &Issue{
		id: ScriptsCheckoutFailedId,
		mdMsg: `
# Build scripts checkout failed!

Could not clone the pkgscripts-ng repository or check out the branch
matching your DSM version (branches are named DSM<version>, e.g. DSM7.1).

## Common causes:
- The requested version has no matching branch yet
- Network failure talking to github.com
- A proxy or firewall blocking git traffic

## Things you can try:
- Confirm the version is published:
~~~
$ teleport-spk versions
~~~

- Test connectivity by cloning manually:
~~~
$ git clone https://github.com/SynologyOpenSource/pkgscripts-ng.git
~~~`,
		extLinks: []HttpLink{
			"https://github.com/SynologyOpenSource/pkgscripts-ng",
		},
	}

	deployFailedIssue = &Issue{
		id: DeployFailedId,
		mdMsg: `
# Environment deployment failed!

EnvDeploy exited with an error while assembling the chroot build environment.
Its full transcript is kept in the current directory; the workspace itself
has already been unmounted and deleted.

## Things you can try:
- Read the deploy transcript:
~~~
$ less envdeploy.log
~~~

- Check free disk space; a toolchain environment unpacks to several gigabytes
- Make sure no earlier run left mounts behind:
~~~
$ mount | grep syno-build
~~~`,
	}

	mountBusyIssue = &Issue{
		id: MountBusyId,
		mdMsg: `
# Workspace mount busy!

A pseudo-filesystem mounted into the workspace could not be detached, so the
workspace directory was left in place rather than deleting files out from
under a live mount.

## Things you can try:
- Find the processes keeping the mount busy:
~~~
$ fuser -vm /tmp/syno-build-*
~~~

- Stop them (a shell whose working directory is inside the workspace counts),
  then detach and delete manually:
~~~
$ sudo umount -R /tmp/syno-build-*
$ sudo rm -rf /tmp/syno-build-*
~~~`,
	}

	issues = map[Id]*Issue{
		elevatedPrivilegesIssue.Id():    elevatedPrivilegesIssue,
		configLoadFailedIssue.Id():      configLoadFailedIssue,
		unsupportedPlatformIssue.Id():   unsupportedPlatformIssue,
		unsupportedVersionIssue.Id():    unsupportedVersionIssue,
		catalogUnreachableIssue.Id():    catalogUnreachableIssue,
		toolkitDownloadFailedIssue.Id(): toolkitDownloadFailedIssue,
		gitNotFoundIssue.Id():           gitNotFoundIssue,
		scriptsCheckoutFailedIssue.Id(): scriptsCheckoutFailedIssue,
		deployFailedIssue.Id():          deployFailedIssue,
		mountBusyIssue.Id():             mountBusyIssue,
	}
)

// Values returns every cataloged issue in ascending Id order.
func Values() []*Issue {
	ids := maps.Keys(issues)
	slices.Sort(ids)

	vals := make([]*Issue, 0, len(ids))
	for _, id := range ids {
		vals = append(vals, issues[id])
	}
	return vals
}

// Get returns the cataloged issue for id, or nil if the id is unknown.
func Get(id Id) *Issue {
	return issues[id]
}
