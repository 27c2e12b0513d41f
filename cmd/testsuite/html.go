package main

import (
	"fmt"
	"html/template"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/dylandreimerink/perfevent/kernelsupport"
)

// reportEnv is a column of the report, one feature version the tests ran under
type reportEnv struct {
	Name string
	// Features are the perf features this env adds on top of the previous one
	Features string
	Pass     int
	Fail     int
	Skip     int
	// Profiles are the coverage profiles written by the test binaries of this env
	Profiles []string
}

// reportRow is the result of one test across all envs, Statuses is in the same order as the envs
type reportRow struct {
	Test     string
	Statuses []string
	// FirstFail is the oldest feature version the test fails on, empty if it passes everywhere
	FirstFail string
}

type reportPackage struct {
	Name string
	Rows []reportRow
}

type htmlData struct {
	Envs     []reportEnv
	Packages []reportPackage
	Coverage bool
}

// sortEnvs orders the native env first and feature versions from old to new
func sortEnvs(envs []string) {
	sort.Slice(envs, func(i, j int) bool {
		if envs[i] == nativeEnv || envs[j] == nativeEnv {
			return envs[i] == nativeEnv && envs[j] != nativeEnv
		}

		a, errA := kernelsupport.ParseFeatureVersion(envs[i])
		b, errB := kernelsupport.ParseFeatureVersion(envs[j])
		if errA != nil || errB != nil {
			return envs[i] < envs[j]
		}
		if a.Major != b.Major {
			return a.Major < b.Major
		}
		return a.Patch < b.Patch
	})
}

func envFeatures(env string) string {
	if env == nativeEnv {
		return "running kernel"
	}
	fv, err := kernelsupport.ParseFeatureVersion(env)
	if err != nil {
		return ""
	}
	return fv.Features().String()
}

func buildReport(testResults map[string]map[string]testResult, profiles map[string][]string) htmlData {
	names := make([]string, 0, len(testResults))
	for env := range testResults {
		names = append(names, env)
	}
	sortEnvs(names)

	data := htmlData{Coverage: len(profiles) > 0}
	for _, env := range names {
		re := reportEnv{Name: env, Features: envFeatures(env), Profiles: profiles[env]}
		for _, res := range testResults[env] {
			switch res.Status {
			case "PASS":
				re.Pass++
			case "FAIL":
				re.Fail++
			case "SKIP":
				re.Skip++
			}
		}
		data.Envs = append(data.Envs, re)
	}

	// Test names are 'pkg.TestName', rows are grouped per package
	byPkg := make(map[string]map[string]bool)
	for _, results := range testResults {
		for name := range results {
			pkg, test, ok := strings.Cut(name, ".")
			if !ok {
				pkg, test = "", name
			}
			if byPkg[pkg] == nil {
				byPkg[pkg] = make(map[string]bool)
			}
			byPkg[pkg][test] = true
		}
	}

	pkgs := make([]string, 0, len(byPkg))
	for pkg := range byPkg {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	for _, pkg := range pkgs {
		tests := make([]string, 0, len(byPkg[pkg]))
		for test := range byPkg[pkg] {
			tests = append(tests, test)
		}
		sort.Strings(tests)

		rp := reportPackage{Name: pkg}
		for _, test := range tests {
			fullName := test
			if pkg != "" {
				fullName = pkg + "." + test
			}

			row := reportRow{Test: test}
			for _, env := range names {
				status := testResults[env][fullName].Status
				if status == "" {
					status = "-"
				}
				if status == "FAIL" && row.FirstFail == "" && env != nativeEnv {
					row.FirstFail = env
				}
				row.Statuses = append(row.Statuses, status)
			}
			rp.Rows = append(rp.Rows, row)
		}
		data.Packages = append(data.Packages, rp)
	}

	return data
}

func renderHTMLReport(testResults map[string]map[string]testResult, profiles map[string][]string, out io.Writer) error {
	tpl, err := template.New("report").Funcs(template.FuncMap{
		"base": path.Base,
	}).Parse(htmlTpl)
	if err != nil {
		return fmt.Errorf("parse tpl: %w", err)
	}

	if err = tpl.Execute(out, buildReport(testResults, profiles)); err != nil {
		return fmt.Errorf("execute tpl: %w", err)
	}

	return nil
}

var htmlTpl = `<html>
	<head>
		<title>perfevent feature version report</title>
		<style>
			table { border-spacing: 0px; }
			td, th { padding: 4px; border-top: 1px solid #999; text-align: left; }
			td.PASS { background-color: #50CC50; }
			td.FAIL { background-color: #FF3333; }
			td.SKIP { background-color: #FFC107; }
			td.features { font-size: small; }
		</style>
	</head>
	<body>
		<h1>perfevent feature version report</h1>
		<h2>Feature versions</h2>
		<table class="envs">
			<tr><th>Env</th><th>Adds</th><th>Pass</th><th>Fail</th><th>Skip</th></tr>
		{{- range .Envs}}
			<tr>
				<td>{{.Name}}</td>
				<td class="features">{{.Features}}</td>
				<td>{{.Pass}}</td>
				<td>{{if .Fail}}<b>{{.Fail}}</b>{{else}}0{{end}}</td>
				<td>{{.Skip}}</td>
			</tr>
		{{- end}}
		</table>
		{{- range $pkg := .Packages}}
		<h2>Package {{$pkg.Name}}</h2>
		<table class="test-matrix">
			<tr>
				<th>Test</th>
			{{- range $.Envs}}
				<th>{{.Name}}</th>
			{{- end}}
				<th>First failing version</th>
			</tr>
		{{- range $pkg.Rows}}
			<tr>
				<td>{{.Test}}</td>
			{{- range .Statuses}}
				{{- if eq . "-"}}
				<td>-</td>
				{{- else}}
				<td class="{{.}}">{{.}}</td>
				{{- end}}
			{{- end}}
				<td>{{.FirstFail}}</td>
			</tr>
		{{- end}}
		</table>
		{{- end}}
		{{- if .Coverage}}
		<h2>Code coverage profiles</h2>
		<ul>
		{{- range .Envs}}
			<li>{{.Name}}:
			{{- range .Profiles}}
				<a href="{{.}}">{{base .}}</a>
			{{- else}}
				none
			{{- end}}
			</li>
		{{- end}}
		</ul>
		{{- end}}
	</body>
</html>`
