package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/conneroisu/sowing/internal/auth"
	"github.com/conneroisu/sowing/internal/hostpage"
	"github.com/conneroisu/sowing/internal/preview"
	"github.com/conneroisu/sowing/internal/store"
)

const pageStyle = `body{font-family:system-ui,sans-serif;margin:0;color:#222}
header{padding:.6rem 1rem;background:#2f4f2f;color:#fff}
header a{color:#fff;margin-right:1rem;text-decoration:none}
header .account{float:right}
form.stacked label{display:block;margin:.4rem 0}
main{padding:1rem 1.5rem;max-width:72rem}
.panes{display:grid;grid-template-columns:1fr 1fr;gap:1rem}
#editor textarea,#content{width:100%;min-height:28rem;font-family:monospace}
#preview-content{border:1px solid #ddd;padding:.5rem 1rem;min-height:28rem;overflow:auto}
.alert-danger{color:#a00}
ins{background:#dfd;text-decoration:none}
del{background:#fdd}
pre.diff{white-space:pre-wrap}
table{border-collapse:collapse}td,th{padding:.2rem .8rem;border-bottom:1px solid #eee;text-align:left}`

// htmlWriter accumulates the first write error so page bodies read as a
// straight sequence of writes.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) link(href, label string) {
	h.raw(`<a href="`)
	h.text(href)
	h.raw(`">`)
	h.text(label)
	h.raw(`</a>`)
}

func fragment(fn func(h *htmlWriter)) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		fn(h)
		return h.err
	})
}

func layout(title string, body ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`)
		h.text(title)
		h.raw(` - sowing</title><style>` + pageStyle + `</style></head><body><header><a href="/">sowing</a>`)
		if user := auth.UserFrom(ctx); user != nil {
			h.raw(`<span class="account">`)
			h.text(user.Name())
			h.raw(` `)
			h.link("/logout", "Log out")
			h.raw(`</span>`)
		} else {
			h.raw(`<span class="account">`)
			h.link("/login", "Log in")
			h.link("/register", "Register")
			h.raw(`</span>`)
		}
		h.raw(`</header><main>`)
		if h.err != nil {
			return h.err
		}
		if err := templ.Join(body...).Render(ctx, w); err != nil {
			return err
		}
		h.raw(`</main></body></html>`)
		return h.err
	})
}

func pageURL(kind, silo, p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return "/" + url.PathEscape(silo) + "/" + kind + "/" + strings.Join(parts, "/")
}

func indexPage(silos []store.Silo) templ.Component {
	return layout("Silos", fragment(func(h *htmlWriter) {
		h.raw(`<h1>Silos</h1>`)
		if len(silos) == 0 {
			h.raw(`<p>No pages yet. `)
			h.link(pageURL("edit", "main", "home"), "Start the main silo")
			h.raw(`.</p>`)
			return
		}
		h.raw(`<ul>`)
		for _, s := range silos {
			h.raw(`<li>`)
			h.link("/"+url.PathEscape(s.Slug)+"/", s.Name)
			h.raw(`</li>`)
		}
		h.raw(`</ul>`)
	}), newSiloForm())
}

func newSiloForm() templ.Component {
	return fragment(func(h *htmlWriter) {
		h.raw(`<h2>New silo</h2><form class="stacked" method="post" action="/">`)
		h.raw(`<label>Name <input type="text" name="name" required></label>`)
		h.raw(`<label>Slug <input type="text" name="slug" pattern="[^/ ]+" required></label>`)
		h.raw(`<button type="submit">Create silo</button></form>`)
	})
}

func siloPage(silo string, pages []store.Page) templ.Component {
	return layout(silo, fragment(func(h *htmlWriter) {
		h.raw(`<h1>`)
		h.text(silo)
		h.raw(`</h1><ul>`)
		for _, p := range pages {
			h.raw(`<li>`)
			h.link(pageURL("wiki", silo, p.Path), p.Path)
			h.raw(` <small>`)
			h.text(p.Title)
			h.raw(`</small></li>`)
		}
		h.raw(`</ul><p>`)
		h.link(pageURL("edit", silo, "home"), "Edit home")
		h.raw(` | `)
		h.link("/"+url.PathEscape(silo)+"/new/", "New page")
		h.raw(`</p>`)
	}))
}

func pageNav(page *store.Page) templ.Component {
	return fragment(func(h *htmlWriter) {
		h.raw(`<nav>`)
		h.link(pageURL("wiki", page.Silo, page.Path), "View")
		h.raw(` | `)
		h.link(pageURL("edit", page.Silo, page.Path), "Edit")
		h.raw(` | `)
		h.link(pageURL("history", page.Silo, page.Path), "History")
		h.raw(`</nav>`)
	})
}

func viewPage(page *store.Page, rendered string) templ.Component {
	return layout(page.Title,
		fragment(func(h *htmlWriter) {
			h.raw(`<h1>`)
			h.text(page.Title)
			h.raw(`</h1>`)
		}),
		pageNav(page),
		fragment(func(h *htmlWriter) { h.raw(`<article class="page-content">`) }),
		templ.Raw(rendered),
		fragment(func(h *htmlWriter) {
			h.raw(`</article><p><small>Updated `)
			h.text(page.UpdatedAt.Format(time.RFC1123))
			h.raw(`</small></p><form method="post" action="`)
			h.text(pageURL("delete", page.Silo, page.Path))
			h.raw(`"><button type="submit">Delete page</button></form>`)
		}),
	)
}

type editView struct {
	Silo     string
	Path     string
	Title    string
	Content  string
	Rendered string
	Debounce time.Duration
}

// editPage is the host page the editing core binds to by element id.
func editPage(v editView) templ.Component {
	return layout("Editing "+v.Title,
		fragment(func(h *htmlWriter) {
			h.raw(`<h1>Editing `)
			h.text(v.Title)
			h.raw(`</h1><form id="` + hostpage.FormID + `" method="post" action="`)
			h.text(pageURL("edit", v.Silo, v.Path))
			h.raw(`"><input type="hidden" name="title" value="`)
			h.text(v.Title)
			h.raw(`"><div class="panes"><div id="` + hostpage.EditorID + `"><textarea id="` + hostpage.ContentID + `" name="content">`)
			h.text(v.Content)
			h.raw(`</textarea></div><div id="` + hostpage.PreviewID + `">`)
		}),
		templ.Raw(v.Rendered),
		fragment(func(h *htmlWriter) {
			h.raw(`</div></div><p><label>Comment <input id="` + hostpage.CommentID + `" type="text" size="60"></label> `)
			h.raw(`<button id="` + hostpage.SaveButtonID + `" type="button">Save</button></p></form>`)
			h.raw(`<script>`)
			h.raw(editorScript(v.Debounce))
			h.raw(`</script>`)
		}),
	)
}

func historyPage(page *store.Page, revisions []store.Revision) templ.Component {
	return layout("History of "+page.Title,
		fragment(func(h *htmlWriter) {
			h.raw(`<h1>History of `)
			h.text(page.Title)
			h.raw(`</h1>`)
		}),
		pageNav(page),
		fragment(func(h *htmlWriter) {
			h.raw(`<table><tr><th>Revision</th><th>Saved</th><th>Author</th><th>Comment</th><th></th></tr>`)
			for i, rev := range revisions {
				h.raw(`<tr><td>`)
				h.text(fmt.Sprint(rev.ID))
				h.raw(`</td><td>`)
				h.text(rev.CreatedAt.Format(time.RFC1123))
				h.raw(`</td><td>`)
				h.text(rev.Author)
				h.raw(`</td><td>`)
				h.text(rev.Comment)
				h.raw(`</td><td>`)
				// Newest first, so the previous revision is the next row.
				if i+1 < len(revisions) {
					h.link(fmt.Sprintf("%s?from=%d&to=%d",
						pageURL("diff", page.Silo, page.Path), revisions[i+1].ID, rev.ID), "diff")
				}
				h.raw(`</td></tr>`)
			}
			h.raw(`</table>`)
		}),
	)
}

func diffPage(page *store.Page, from, to int64, markup string) templ.Component {
	return layout("Diff of "+page.Title,
		fragment(func(h *htmlWriter) {
			h.raw(`<h1>`)
			h.text(fmt.Sprintf("%s: revision %d to %d", page.Title, from, to))
			h.raw(`</h1>`)
		}),
		pageNav(page),
		fragment(func(h *htmlWriter) { h.raw(`<pre class="diff">`) }),
		templ.Raw(markup),
		fragment(func(h *htmlWriter) { h.raw(`</pre>`) }),
	)
}

// newPageForm creates a page in silo; path pre-fills the page path.
func newPageForm(silo, path string) templ.Component {
	return layout("New page in "+silo, fragment(func(h *htmlWriter) {
		h.raw(`<h1>New page in `)
		h.text(silo)
		h.raw(`</h1><form class="stacked" method="post" action="/`)
		h.text(url.PathEscape(silo))
		h.raw(`/new/"><label>Path <input type="text" name="path" required value="`)
		h.text(path)
		h.raw(`"></label><label>Title <input type="text" name="title"></label>`)
		h.raw(`<label>Content <textarea name="content" rows="16" cols="80"></textarea></label>`)
		h.raw(`<label>Comment <input type="text" name="comment" size="60"></label>`)
		h.raw(`<button type="submit">Create page</button></form>`)
	}))
}

func loginPage(next, message string) templ.Component {
	return layout("Log in", fragment(func(h *htmlWriter) {
		h.raw(`<h1>Log in</h1>`)
		if message != "" {
			h.raw(`<p class="alert-danger">`)
			h.text(message)
			h.raw(`</p>`)
		}
		h.raw(`<form class="stacked" method="post" action="/login"><input type="hidden" name="next" value="`)
		h.text(next)
		h.raw(`"><label>Username <input type="text" name="username" autocomplete="username" required></label>`)
		h.raw(`<label>Password <input type="password" name="password" autocomplete="current-password" required></label>`)
		h.raw(`<button type="submit">Log in</button></form><p>No account? `)
		h.link("/register", "Register")
		h.raw(`</p>`)
	}))
}

func registerPage(message string) templ.Component {
	return layout("Register", fragment(func(h *htmlWriter) {
		h.raw(`<h1>Register</h1>`)
		if message != "" {
			h.raw(`<p class="alert-danger">`)
			h.text(message)
			h.raw(`</p>`)
		}
		h.raw(`<form class="stacked" method="post" action="/register">`)
		h.raw(`<label>Username <input type="text" name="username" autocomplete="username" required></label>`)
		h.raw(`<label>Display name <input type="text" name="display_name"></label>`)
		h.raw(`<label>Password <input type="password" name="password" autocomplete="new-password" required></label>`)
		h.raw(`<button type="submit">Register</button></form>`)
	}))
}

func errorPage(title, message string) templ.Component {
	return layout(title, fragment(func(h *htmlWriter) {
		h.raw(`<h1>`)
		h.text(title)
		h.raw(`</h1><p>`)
		h.text(message)
		h.raw(`</p>`)
	}))
}

// editorScript is the in-browser host of the editing core: debounced
// previews applied newest-wins, attachment drops and the save flow.
func editorScript(debounce time.Duration) string {
	quote := func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	}
	return fmt.Sprintf(`(() => {
  const delay = %d, serverError = %s, unreachable = %s;
  const form = document.getElementById(%s);
  const content = document.getElementById(%s);
  const editor = document.getElementById(%s);
  const preview = document.getElementById(%s);
  const area = document.createElement('textarea');
  area.value = content.value;
  content.hidden = true;
  editor.appendChild(area);
  let timer = null, seq = 0, applied = 0;
  const show = (mine, html) => { if (mine > applied) { applied = mine; preview.innerHTML = html; } };
  const refresh = () => {
    const mine = ++seq;
    fetch('/_preview', {method: 'POST', headers: {'Content-Type': 'text/plain; charset=utf-8'}, body: area.value})
      .then(r => r.ok ? r.text().then(html => show(mine, html)) : show(mine, serverError))
      .catch(() => show(mine, unreachable));
  };
  area.addEventListener('input', () => { clearTimeout(timer); timer = setTimeout(refresh, delay); });
  area.addEventListener('dragover', e => e.preventDefault());
  area.addEventListener('drop', e => {
    const file = e.dataTransfer.files[0];
    if (!file) return;
    e.preventDefault();
    const at = area.selectionStart;
    const body = new FormData();
    body.append('file', file);
    fetch('/upload', {method: 'POST', body})
      .then(r => r.ok ? r.json() : Promise.reject(new Error('status ' + r.status)))
      .then(res => {
        area.value = area.value.slice(0, at) + '[[' + res.url + ']]' + area.value.slice(at);
        area.dispatchEvent(new Event('input'));
      })
      .catch(err => alert('Upload failed: ' + err.message));
  });
  document.getElementById(%s).addEventListener('click', () => {
    content.value = area.value;
    let comment = form.elements.namedItem('comment');
    if (!comment) {
      comment = document.createElement('input');
      comment.type = 'hidden';
      comment.name = 'comment';
      form.appendChild(comment);
    }
    comment.value = document.getElementById(%s).value;
    form.submit();
  });
})();`,
		debounce.Milliseconds(),
		quote(preview.ServerErrorPlaceholder), quote(preview.UnreachablePlaceholder),
		quote(hostpage.FormID), quote(hostpage.ContentID), quote(hostpage.EditorID),
		quote(hostpage.PreviewID), quote(hostpage.SaveButtonID), quote(hostpage.CommentID))
}
