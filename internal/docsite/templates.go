package docsite

// Built-in page templates, overridable per directory listed in
// templates_path.

const indexTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Project}}</title>
<link rel="stylesheet" href="_static/theme.css">
</head>
<body class="theme-{{.Theme}}">
<header><h1>{{.Project}}</h1></header>
<main>
{{range .Kinds}}
<section>
<h2>{{.Kind}}</h2>
<ul>
{{range .Pages}}<li><a href="{{.Filename}}">{{.Hrid}}</a>{{if .Title}} — {{.Title}}{{end}}</li>
{{end}}</ul>
</section>
{{end}}
</main>
<footer>
<p>&copy; {{.Copyright}} — {{.Author}}</p>
{{if .Extensions}}<p class="extensions">extensions: {{range .Extensions}}<code>{{.}}</code> {{end}}</p>{{end}}
</footer>
</body>
</html>
`

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Hrid}} — {{.Project}}</title>
<link rel="stylesheet" href="_static/theme.css">
</head>
<body class="theme-{{.Theme}}">
<header><h1>{{.Hrid}}</h1><p><a href="index.html">{{.Project}}</a></p></header>
<main>
<article>
{{.Body}}
</article>
<aside>
<dl>
<dt>uuid</dt><dd><code>{{.UUID}}</code></dd>
<dt>created</dt><dd>{{.Created}}</dd>
{{if .Tags}}<dt>tags</dt><dd>{{range .Tags}}<code>{{.}}</code> {{end}}</dd>{{end}}
{{if .Parents}}<dt>parents</dt><dd><ul>
{{range .Parents}}<li><a href="{{.Filename}}">{{.Hrid}}</a></li>
{{end}}</ul></dd>{{end}}
</dl>
</aside>
</main>
<footer><p>&copy; {{.Copyright}} — {{.Author}}</p></footer>
</body>
</html>
`

// Built-in theme stylesheets. An unrecognised theme name falls back to the
// default; installing real themes is out of scope for the generator.
var themes = map[string]string{
	"alabaster": `body { font-family: Georgia, serif; max-width: 46rem; margin: 2rem auto; color: #3e4349; }
a { color: #004b6b; } code { background: #eee; padding: 0 .2rem; }
footer { border-top: 1px solid #ddd; margin-top: 2rem; font-size: .85rem; color: #888; }`,

	"basic": `body { font-family: sans-serif; max-width: 50rem; margin: 1rem auto; }
footer { margin-top: 2rem; font-size: .85rem; }`,
}

const defaultTheme = "basic"
