package contentid

import "testing"

func meshMetadata(updated string) ProviderMetadata {
	return ProviderMetadata{
		"provider":    StringValue(ProviderMeshSite),
		"filePageId":  StringValue("1234"),
		"changelogId": StringValue("0"),
		"fileId":      StringValue("5678"),
		"version":     StringValue("1.2"),
		"updated":     StringValue(updated),
		"size":        IntValue(1048576),
	}
}

func TestComputeContentIDDeterministic(t *testing.T) {
	// E1: same metadata and URL always produce the same ContentId.
	url := "https://example-mesh-site.test/files/file/1234-title/?r=99"

	id1, err := ComputeContentID(meshMetadata("2024-01-15"), url)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ComputeContentID(meshMetadata("2024-01-15"), url)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("ContentId not deterministic: %s != %s", id1, id2)
	}
	if len(id1) != 40 {
		t.Errorf("ContentId length = %d, want 40", len(id1))
	}
}

func TestComputeContentIDInsertionOrderIndependent(t *testing.T) {
	url := "https://example-mesh-site.test/files/file/1234-title/"

	a := ProviderMetadata{}
	a["provider"] = StringValue(ProviderMeshSite)
	a["filePageId"] = StringValue("1")
	a["size"] = IntValue(10)

	b := ProviderMetadata{}
	b["size"] = IntValue(10)
	b["filePageId"] = StringValue("1")
	b["provider"] = StringValue(ProviderMeshSite)

	idA, err := ComputeContentID(a, url)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := ComputeContentID(b, url)
	if err != nil {
		t.Fatal(err)
	}
	if idA != idB {
		t.Errorf("ContentId depends on map insertion order: %s != %s", idA, idB)
	}
}

func TestComputeContentIDChangesWithField(t *testing.T) {
	url := "https://example-mesh-site.test/files/file/1234-title/"

	id1, err := ComputeContentID(meshMetadata("2024-01-15"), url)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ComputeContentID(meshMetadata("2024-01-16"), url)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Error("expected different ContentId after changing 'updated' field")
	}
}

func TestComputeContentIDMissingFieldsDefault(t *testing.T) {
	url := "https://example-mesh-site.test/files/file/1234-title/"
	meta := ProviderMetadata{"provider": StringValue(ProviderMeshSite)}

	id, err := ComputeContentID(meta, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 40 {
		t.Errorf("ContentId length = %d, want 40", len(id))
	}
}

func TestDeterminePieceSize(t *testing.T) {
	tests := []struct {
		fileSize uint64
		want     uint32
	}{
		{0, 64 * 1024},
		{5_000_000_000, 64 * 1024},
		{10_000_000_000_000, 4 * 1024 * 1024},
	}

	for _, tt := range tests {
		got := DeterminePieceSize(tt.fileSize)
		if got != tt.want {
			t.Errorf("DeterminePieceSize(%d) = %d, want %d", tt.fileSize, got, tt.want)
		}
		pieces := ceilDiv(tt.fileSize, uint64(got))
		if pieces > maxPieceCount {
			t.Errorf("DeterminePieceSize(%d): %d pieces exceeds cap", tt.fileSize, pieces)
		}
	}
}

func TestNormalizeURLLowercasesAndStripsDefaultPort(t *testing.T) {
	got, err := NormalizeURL("HTTPS://Example.COM:443/Path/", true)
	if err != nil {
		t.Fatal(err)
	}
	want := "https://example.com/Path"
	if got != want {
		t.Errorf("NormalizeURL = %q, want %q", got, want)
	}
}

func TestNormalizeURLStripsQueryAndFragment(t *testing.T) {
	got, err := NormalizeURL("https://example.com/a?x=1#frag", true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/a" {
		t.Errorf("NormalizeURL = %q", got)
	}
}

func TestNormalizeURLKeepsQueryWhenNotStripping(t *testing.T) {
	got, err := NormalizeURL("https://example.com/a?x=1", false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/a?x=1" {
		t.Errorf("NormalizeURL = %q", got)
	}
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	first, err := NormalizeURL("https://Example.com:443/path/?q=1#f", true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NormalizeURL(first, true)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("NormalizeURL not idempotent: %q != %q", first, second)
	}
}

func TestNormalizeURLRootPathKeepsSlash(t *testing.T) {
	got, err := NormalizeURL("https://example.com/", true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/" {
		t.Errorf("NormalizeURL = %q, want root slash kept", got)
	}
}

func TestValidateStructRejectsMissingRequired(t *testing.T) {
	m := ModIndexMetadata{Size: 10}
	if err := ValidateStruct(m); err == nil {
		t.Error("expected validation error for missing FileID")
	}
}

func TestValidateStructAcceptsWellFormed(t *testing.T) {
	m := DirectHTTPMetadata{URL: "https://example.com/file.zip", ContentLength: 100}
	if err := ValidateStruct(m); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
