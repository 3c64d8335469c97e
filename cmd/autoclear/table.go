// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/autobrr/autoclear/internal/services/housekeeping"
)

var previewHeader = table.Row{"Downloader", "Action", "Hash", "Name", "Site", "Size"}

func renderPreview(previews []housekeeping.Preview) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(previewHeader)

	total := 0
	for _, p := range previews {
		for _, c := range p.Candidates {
			tw.AppendRow(table.Row{
				p.Downloader,
				string(p.Action),
				c.ID,
				c.Name,
				c.Site,
				humanize.IBytes(uint64(max(c.Size, 0))),
			})
			total++
		}
	}

	tw.AppendFooter(table.Row{"", "", "", "", "Total", total})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})

	return tw.Render()
}
