package main

import "html/template"

var chatPage = template.Must(template.New("chat").Parse(chatPageHTML))

const chatPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>🎮 {{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 0; display: flex; min-height: 100vh; background: #0e1117; color: #fafafa; }
main { flex: 1; max-width: 760px; margin: 0 auto; padding: 1rem 1.5rem 6rem; }
aside { width: 300px; background: #262730; padding: 1rem 1.25rem; }
h1 { margin-top: 0.5rem; }
.turn { padding: 0.75rem 1rem; border-radius: 0.5rem; margin: 0.75rem 0; white-space: pre-wrap; line-height: 1.45; }
.turn.user { background: #1f3b57; }
.turn.assistant { background: #262730; }
.turn.partial { opacity: 0.8; }
.notice { padding: 0.5rem 0.75rem; border-radius: 0.4rem; margin: 0.5rem 0; background: #1e4620; }
.notice + .notice { background: #1c3a5e; }
form.chat { position: fixed; bottom: 0; left: 0; right: 300px; padding: 1rem; background: #0e1117; display: flex; justify-content: center; gap: 0.5rem; }
form.chat input { flex: 1; max-width: 640px; padding: 0.75rem; border-radius: 0.5rem; border: 1px solid #444; background: #1a1c24; color: inherit; }
button { padding: 0.6rem 1rem; border-radius: 0.5rem; border: 1px solid #555; background: #31333f; color: inherit; cursor: pointer; }
button:disabled, input:disabled { opacity: 0.5; cursor: wait; }
label { display: block; margin: 0.35rem 0; }
hr { border: 0; border-top: 1px solid #444; margin: 1rem 0; }
small { color: #aaa; }
</style>
</head>
<body>
<main>
<h1>🎮 {{.Title}}</h1>
<p>Welcome to <strong>{{.Title}}</strong>! 🎯</p>
<p>I'm your personal AI companion designed to help you with everything gaming-related. Whether you need:</p>
<ul>
<li>🕹️ Game recommendations tailored to your preferences</li>
<li>💡 Expert strategies and tips to level up your gameplay</li>
<li>📖 Deep dives into game lore and storylines</li>
<li>⚔️ Build guides and character optimization</li>
<li>🏆 Achievement and trophy hunting advice</li>
</ul>
<p>Just ask me anything, and let's explore the gaming world together!</p>
<div id="notices"></div>
<div id="transcript">
{{range .Turns}}<div class="turn {{.Role}}">{{.Content}}</div>
{{end}}</div>
</main>
<aside>
<h2>⚙️ Settings</h2>
<h3>🎭 AI Personality</h3>
<p>Choose how I should talk to you:</p>
<form id="personality">
{{range .Personalities}}<label><input type="radio" name="personality" value="{{.ID}}"{{if eq .ID $.Active.ID}} checked{{end}}> {{.Emoji}} {{.Label}}</label>
{{end}}</form>
<hr>
<h3>📝 Personality Guide</h3>
{{range .Personalities}}<p><strong>{{.Emoji}} {{.Label}}</strong><br>{{.Description}}</p>
{{end}}<hr>
<h2>ℹ️ About</h2>
<p>This is a gaming-focused AI chatbot powered by:</p>
<ul>
<li><strong>{{.Provider.Name}}</strong> ({{.Provider.Model}})</li>
<li>Go, with streaming over server-sent events</li>
</ul>
{{if not .Provider.CredentialPresent}}<p><small>⚠️ {{.Provider.Credential}} is not set.</small></p>{{end}}
<hr>
<button id="reset" type="button">🗑️ Clear Chat History</button>
</aside>
<form class="chat" id="chat">
<input name="message" id="message" placeholder="Ask me anything about gaming..." autocomplete="off" autofocus>
<button type="submit" id="send">Send</button>
</form>
<script>
(function () {
  var transcript = document.getElementById('transcript');
  var notices = document.getElementById('notices');
  var input = document.getElementById('message');
  var send = document.getElementById('send');
  var live = null;

  function bubble(role, text, extra) {
    var div = document.createElement('div');
    div.className = 'turn ' + role + (extra ? ' ' + extra : '');
    div.textContent = text;
    transcript.appendChild(div);
    div.scrollIntoView({block: 'end'});
    return div;
  }

  function busy(on) {
    input.disabled = on;
    send.disabled = on;
    document.getElementById('reset').disabled = on;
    document.querySelectorAll('#personality input').forEach(function (el) { el.disabled = on; });
  }

  var handlers = {
    turn: function (d) {
      if (d.role === 'assistant' && live) { live.remove(); live = null; }
      bubble(d.role, d.content);
    },
    partial: function (d) {
      if (!live) { live = bubble('assistant', '', 'partial'); }
      live.textContent = d.content;
      live.scrollIntoView({block: 'end'});
    },
    notify: function (d) {
      var div = document.createElement('div');
      div.className = 'notice';
      div.textContent = d.message;
      notices.appendChild(div);
    },
    clear: function (d) {
      transcript.innerHTML = '';
      notices.innerHTML = '';
      bubble(d.role, d.content);
    },
    done: function () {}
  };

  async function post(path, body) {
    busy(true);
    try {
      var resp = await fetch(path, {
        method: 'POST',
        headers: {'Content-Type': 'application/json', 'Accept': 'text/event-stream'},
        body: JSON.stringify(body || {})
      });
      if (!resp.ok) {
        var err = await resp.json().catch(function () { return {error: resp.statusText}; });
        handlers.notify({message: '⚠️ ' + err.error});
        return;
      }
      var reader = resp.body.getReader();
      var decoder = new TextDecoder();
      var buf = '';
      for (;;) {
        var r = await reader.read();
        if (r.done) break;
        buf += decoder.decode(r.value, {stream: true});
        var idx;
        while ((idx = buf.indexOf('\n\n')) >= 0) {
          var block = buf.slice(0, idx);
          buf = buf.slice(idx + 2);
          var ev = 'message', data = '';
          block.split('\n').forEach(function (line) {
            if (line.indexOf('event: ') === 0) ev = line.slice(7);
            else if (line.indexOf('data: ') === 0) data += line.slice(6);
          });
          if (handlers[ev] && data) handlers[ev](JSON.parse(data));
        }
      }
    } finally {
      live = null;
      busy(false);
      input.focus();
    }
  }

  document.getElementById('chat').addEventListener('submit', function (e) {
    e.preventDefault();
    var text = input.value.trim();
    if (!text) return;
    input.value = '';
    post('/chat', {message: text});
  });
  document.getElementById('personality').addEventListener('change', function (e) {
    post('/personality', {personality: e.target.value});
  });
  document.getElementById('reset').addEventListener('click', function () {
    post('/reset');
  });
})();
</script>
</body>
</html>
`
