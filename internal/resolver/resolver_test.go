package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/valpere/pseudotran/internal/resolver"
)

func TestNormalizeImport(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"plain import", "import os", []string{"import os"}},
		{"extra whitespace", "import   os", []string{"import os"}},
		{"indented import", "    import sys", []string{"import sys"}},
		{"comma list", "import os, sys", []string{"import os", "import sys"}},
		{"alias kept", "import numpy as np", []string{"import numpy as np"}},
		{"from import", "from collections import OrderedDict", []string{"from collections import OrderedDict"}},
		{"from import list", "from os import path, sep", []string{"from os import path", "from os import sep"}},
		{"from import alias", "from os import path as p", []string{"from os import path as p"}},
		{"go quoted import", `import "net/http"`, []string{"import net/http"}},
		{"go named import", `import h "net/http"`, []string{"import net/http"}},
		{"not an import", "x = import_data()", nil},
		{"empty line", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.NormalizeImport(tt.line))
		})
	}
}

func TestNormalizeImport_EquivalentFormsDeduplicate(t *testing.T) {
	a := resolver.NormalizeImport("import os")
	b := resolver.NormalizeImport("import  os ")
	c := resolver.NormalizeImport("\timport os")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestAnalyzeBlock(t *testing.T) {
	code := `import json
from pathlib import Path

MAX_SIZE = 100

def load(p):
    return json.loads(Path(p).read_text())

class Loader:
    pass
`
	a := resolver.AnalyzeBlock(code)

	assert.Contains(t, a.DefinedNames, "load")
	assert.Contains(t, a.DefinedNames, "Loader")
	assert.Contains(t, a.DefinedNames, "MAX_SIZE")
	assert.Contains(t, a.RequiredImports, "import json")
	assert.Contains(t, a.RequiredImports, "from pathlib import Path")
}

func TestAnalyzeBlock_IndentedAssignmentNotDefined(t *testing.T) {
	a := resolver.AnalyzeBlock("def f():\n    local = 1\n    return local")
	assert.Contains(t, a.DefinedNames, "f")
	assert.NotContains(t, a.DefinedNames, "local")
}

func TestMergeImports_Deduplicates(t *testing.T) {
	merged := resolver.MergeImports([]string{
		"import os",
		"import json",
		"import os",
		"from pathlib import Path",
		"import json",
	})
	assert.Equal(t, []string{
		"from pathlib import Path",
		"import json",
		"import os",
	}, merged)
}

func TestMergeImports_GroupOrdering(t *testing.T) {
	merged := resolver.MergeImports([]string{
		"import requests",
		"from .local import helper",
		"import os",
		"import numpy as np",
		"import json",
	})
	assert.Equal(t, []string{
		"import json",
		"import os",
		"import numpy as np",
		"import requests",
		"from .local import helper",
	}, merged)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, resolver.GroupStdlib, resolver.Classify("import os"))
	assert.Equal(t, resolver.GroupStdlib, resolver.Classify("from collections import deque"))
	assert.Equal(t, resolver.GroupThirdParty, resolver.Classify("import requests"))
	assert.Equal(t, resolver.GroupLocal, resolver.Classify("from .utils import x"))
}

func TestAnalyzeBlocks_IndependentPerBlock(t *testing.T) {
	out := resolver.AnalyzeBlocks([]string{
		"import os\ndef a():\n    pass",
		"def b():\n    pass",
	})
	assert.Len(t, out, 2)
	assert.Contains(t, out[0].DefinedNames, "a")
	assert.NotContains(t, out[1].DefinedNames, "a")
	assert.Empty(t, out[1].RequiredImports)
}
