package mcpserver

// PersonNodeFormat describes the JSON shape of the family graphs returned by
// the search and tree tools.
const PersonNodeFormat = `# arvore Person Node Format

Every family graph is a JSON array of person nodes. The first node of a
search result is the searched person and has ` + "`" + `main: true` + "`" + `.

## Node

` + "```" + `json
{
  "id": "0b6f0a3e-6f0c-4a55-9d0e-3f1d2b8d9c11",
  "data": {
    "first_name": "JOAO",
    "last_name": "SILVA",
    "birthday": "1980-02-10",
    "avatar": "https://example.org/avatar.png",
    "gender": "M",
    "label": "JOAO DA SILVA",
    "desc": "CPF: 38579754828"
  },
  "rels": {
    "father": "<node id>",
    "mother": "<node id>",
    "spouses": ["<node id>"],
    "children": ["<node id>"]
  },
  "main": true
}
` + "```" + `

## Rules

1. **ids are opaque.** They are stable within one result and are not CPFs.
2. **gender** is ` + "`" + `F` + "`" + `, ` + "`" + `M` + "`" + ` or ` + "`" + `U` + "`" + ` (unknown).
3. **birthday** is ISO-8601 (YYYY-MM-DD) or omitted when the source had none.
4. **first_name / last_name** are the first and last words of ` + "`" + `label` + "`" + `.
5. **rels** may reference a node id that is not in the array (a parent known
   only by name, or a person past the depth limit).
6. **spouses** and **children** are always arrays, possibly empty.
7. Each person appears at most once. When a person is reached twice, the
   first occurrence wins.
`
