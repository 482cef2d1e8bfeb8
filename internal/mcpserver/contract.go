package mcpserver

// DocumentFormat describes the layout of generated documents for MCP
// clients that read or edit them.
const DocumentFormat = `# refsync Document Format

Each synced record is written to ` + "`<folder>/<item-key>.md`" + `.

## Structure

` + "```" + `markdown
---
item-key: ABCD1234            # record key, never edit
title: Attention Is All You Need
item-type: journalArticle
authors:
    - Ashish Vaswani
year: "2017"
doi: 10.5555/3295222
tags:                         # editable, synced back to the library
    - machine-learning
attachments:                  # vault paths of copied files
    - attachments/ATT1/paper.pdf
---

# Attention Is All You Need

## Abstract
...

<!-- refsync:user:begin -->
Your own notes. Kept verbatim on every regeneration.
<!-- refsync:user:end -->
` + "```" + `

## Rules

1. Everything outside the user zone is regenerated on every sync.
2. Edit ` + "`tags`" + ` to add or remove tags. Additions are pushed to the
   library; tags removed in the library are removed here.
3. Tag comparison ignores case, a leading ` + "`#`" + ` and the difference between
   spaces, hyphens and underscores.
4. Content under a legacy ` + "`## My Notes`" + ` heading is moved into the user
   zone the first time the document is regenerated.
5. Documents are never deleted by the sync engine.
`
