// Package testutil holds shared provenance fixtures and store helpers for
// tests.
package testutil

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lslebodn/assayist/graph"
	"github.com/lslebodn/assayist/internal/fixture"
)

// Golang is the component used by the version-history and impact scenarios.
var Golang = graph.Component{Name: "golang", Type: "generic", Namespace: "redhat"}

// GolangVersions lists the golang versions from newest to oldest.
var GolangVersions = []string{"1.9.7", "1.9.6", "1.9.5", "1.9.4", "1.9.3"}

// GolangURL returns the internal source url of a golang version.
func GolangURL(version string) string {
	return "git://pkgs.domain.local/rpms/golang?#fed96461b05c0078e537c93a3fe974e8b334" +
		strings.ReplaceAll(version, ".", "")
}

// VersionChain returns the golang component with its five source locations,
// each superseding the next older one.
func VersionChain() *fixture.Document {
	doc := &fixture.Document{Components: []graph.Component{Golang}}
	for i, v := range GolangVersions {
		c := Golang
		sl := fixture.SourceLocation{URL: GolangURL(v), Version: v, Component: &c}
		if i+1 < len(GolangVersions) {
			sl.Supersedes = GolangURL(GolangVersions[i+1])
		}
		doc.SourceLocations = append(doc.SourceLocations, sl)
	}
	return doc
}

// ImpactScenario is the golang/prometheus graph used to exercise the impact
// closure.
type ImpactScenario struct {
	Doc *fixture.Document
	// Queried maps each queried version to its url.
	Queried map[string]string
	// Expected holds the build ids the closure must return, sorted.
	Expected []string
	// ContainerBuilds maps a golang version to its golang container build id.
	ContainerBuilds map[string]string
	// ContentBuilds maps a golang version to its content container build id.
	ContentBuilds map[string]string
	// PrometheusContainerBuild is the container embedding the prometheus RPMs.
	PrometheusContainerBuild string
}

// QueryURLs returns the queried urls in version order.
func (s ImpactScenario) QueryURLs() []string {
	var urls []string
	for _, v := range GolangVersions {
		if u, ok := s.Queried[v]; ok {
			urls = append(urls, u)
		}
	}
	return urls
}

type counter int

func (c *counter) next() string {
	id := strconv.Itoa(int(*c))
	*c++
	return id
}

// NewImpactScenario builds the following graph:
//
// Every golang version has an RPM build producing src, noarch and per-arch
// golang and golang-bin RPMs. Every version except 1.9.3 also has a golang
// container build whose per-arch images embed the arch RPMs, and a content
// container build whose images were built with the golang images. Prometheus
// RPMs were built with the 1.9.3 golang RPMs and are embedded in a
// prometheus container.
//
// Querying 1.9.6, 1.9.5 and 1.9.3 affects the 1.9.6 and 1.9.5 content
// containers (built with an affected image) and the prometheus container
// (embeds something built with an affected RPM).
func NewImpactScenario() ImpactScenario {
	queried := map[string]bool{"1.9.6": true, "1.9.5": true, "1.9.3": true}
	s := ImpactScenario{
		Doc:             VersionChain(),
		Queried:         make(map[string]string),
		ContainerBuilds: make(map[string]string),
		ContentBuilds:   make(map[string]string),
	}

	var builds, archives counter
	arches := []string{"aarch64", "x86_64", "ppc64le", "s390x"}
	// filename -> archive id, for the prometheus buildroot below
	byFilename := make(map[string]string)

	rpm := func(arch, filename string) fixture.Artifact {
		id := archives.next()
		byFilename[filename] = id
		return fixture.Artifact{Artifact: graph.Artifact{
			ArchiveID: id, Type: graph.TypeRPM, Architecture: arch, Filename: filename,
		}}
	}

	for _, v := range GolangVersions {
		url := GolangURL(v)
		if queried[v] {
			s.Queried[v] = url
		}

		rpmBuild := fixture.Build{ID: builds.next(), Type: graph.TypeRPM, Source: url}
		rpmBuild.Artifacts = append(rpmBuild.Artifacts, rpm("src", fmt.Sprintf("golang-%s-1.el7.src.rpm", v)))

		var goContainer, content *fixture.Build
		if v != "1.9.3" {
			goContainer = &fixture.Build{ID: builds.next(), Type: graph.TypeContainer}
			content = &fixture.Build{ID: builds.next(), Type: graph.TypeContainer}
			s.ContainerBuilds[v] = goContainer.ID
			s.ContentBuilds[v] = content.ID
			if queried[v] {
				s.Expected = append(s.Expected, content.ID)
			}
		}

		for _, noarch := range []string{"docs", "misc", "src", "tests"} {
			rpmBuild.Artifacts = append(rpmBuild.Artifacts,
				rpm("noarch", fmt.Sprintf("golang-%s-%s-1.el7.noarch.rpm", noarch, v)))
		}

		for _, arch := range arches {
			goRPM := rpm(arch, fmt.Sprintf("golang-%s-1.el7.%s.rpm", v, arch))
			goBin := rpm(arch, fmt.Sprintf("golang-bin-%s-1.el7.%s.rpm", v, arch))
			rpmBuild.Artifacts = append(rpmBuild.Artifacts, goRPM, goBin)

			if goContainer == nil {
				continue
			}
			image := fixture.Artifact{
				Artifact: graph.Artifact{ArchiveID: archives.next(), Type: graph.TypeContainer, Architecture: arch},
				Embeds:   []string{goRPM.ArchiveID, goBin.ArchiveID},
			}
			goContainer.Artifacts = append(goContainer.Artifacts, image)
			content.Artifacts = append(content.Artifacts, fixture.Artifact{
				Artifact:  graph.Artifact{ArchiveID: archives.next(), Type: graph.TypeContainer, Architecture: arch},
				BuiltWith: []string{image.ArchiveID},
			})
		}

		s.Doc.Builds = append(s.Doc.Builds, rpmBuild)
		if goContainer != nil {
			s.Doc.Builds = append(s.Doc.Builds, *goContainer, *content)
		}
	}

	prometheus := graph.Component{Name: "prometheus", Type: "generic", Namespace: "redhat"}
	promURL := "git://pkgs.domain.local/rpms/golang-github-prometheus-prometheus?#41d8a98364a9c631c7f663bbda8942cb2741df49"
	s.Doc.Components = append(s.Doc.Components, prometheus)
	s.Doc.SourceLocations = append(s.Doc.SourceLocations, fixture.SourceLocation{
		URL: promURL, Version: "2.1.0", Component: &prometheus,
	})

	promBuild := fixture.Build{ID: builds.next(), Type: graph.TypeRPM, Source: promURL}
	promBuild.Artifacts = append(promBuild.Artifacts,
		rpm("src", "golang-github-prometheus-prometheus-2.2.1-1.gitbc6058c.el7.src.rpm"))
	promContainer := fixture.Build{ID: builds.next(), Type: graph.TypeContainer}
	s.PrometheusContainerBuild = promContainer.ID
	s.Expected = append(s.Expected, promContainer.ID)

	for _, arch := range []string{"x86_64", "s390x", "ppc64le"} {
		promRPM := rpm(arch, fmt.Sprintf("prometheus-2.2.1-1.gitbc6058c.el7.%s.rpm", arch))
		promRPM.BuiltWith = []string{
			byFilename[fmt.Sprintf("golang-1.9.3-1.el7.%s.rpm", arch)],
			byFilename[fmt.Sprintf("golang-bin-1.9.3-1.el7.%s.rpm", arch)],
		}
		promBuild.Artifacts = append(promBuild.Artifacts, promRPM)
		promContainer.Artifacts = append(promContainer.Artifacts, fixture.Artifact{
			Artifact: graph.Artifact{ArchiveID: archives.next(), Type: graph.TypeContainer, Architecture: arch},
			Embeds:   []string{promRPM.ArchiveID},
		})
	}
	s.Doc.Builds = append(s.Doc.Builds, promBuild, promContainer)

	sort.Strings(s.Expected)
	return s
}

// Content scenario urls.
const (
	ContainerBuildID     = "742663"
	ContainerInternalURL = "git://pks.domain.local/containers/etcd#3dcd6fc75e674589ac7d2294dbf79bd8ebd459fb"
	EtcdInternalURL      = "git://pks.domain.local/rpms/etcd#84858fb38a89e1177b0303c675d206f90f6a83e2"
	EtcdUpstreamURL      = "https://github.com/coreos/etcd/archive/1674e682fe9fbecd66e9f20b77da852ad7f517a9/etcd-1674e682.tar.gz"
	YumUtilsInternalURL  = "git://pks.domain.local/rpms/yum-utils#562e476db1be88f58662d6eb382bb37e87bf5824"
	YumUtilsUpstreamURL  = "http://yum.baseurl.org/download/yum-utils/yum-utils-1.1.31.tar.gz"
)

// ContentScenario is an etcd container image embedding the etcd and
// yum-utils RPMs, each built from an internal source with an upstream.
func ContentScenario() *fixture.Document {
	return &fixture.Document{
		SourceLocations: []fixture.SourceLocation{
			{URL: EtcdInternalURL, Upstream: EtcdUpstreamURL},
			{URL: YumUtilsInternalURL, Upstream: YumUtilsUpstreamURL},
		},
		Builds: []fixture.Build{
			{
				ID: ContainerBuildID, Type: graph.TypeContainer, Source: ContainerInternalURL,
				Artifacts: []fixture.Artifact{{
					Artifact: graph.Artifact{
						ArchiveID: "742663", Architecture: "x86_64", Type: graph.TypeContainer,
						Filename: "docker-image-sha256:98217b7c89052267e1ed02a41217c2e03577b96125e923e95941ac010f209ee6.x86_64.tar.gz",
					},
					Embeds: []string{"5818103", "5962202"},
				}},
			},
			{
				ID: "770188", Type: graph.TypeRPM, Source: EtcdInternalURL,
				Artifacts: []fixture.Artifact{{Artifact: graph.Artifact{
					ArchiveID: "5818103", Architecture: "x86_64", Type: graph.TypeRPM,
					Filename: "etcd-3.2.22-1.el7.x86_64.rpm",
				}}},
			},
			{
				ID: "728353", Type: graph.TypeRPM, Source: YumUtilsInternalURL,
				Artifacts: []fixture.Artifact{{Artifact: graph.Artifact{
					ArchiveID: "5962202", Architecture: "x86_64", Type: graph.TypeRPM,
					Filename: "yum-utils-1.1.31-46.el7_5.noarch.rpm",
				}}},
			},
		},
	}
}
