package storage

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/digitalocean/go-libvirt"
)

// mockLibvirtClient is a mock implementation of the LibvirtClient interface.
// Behavior is configurable per method; calls are tracked for assertions.
type mockLibvirtClient struct {
	mu sync.Mutex

	// Pools and volumes known to the mock, keyed by pool name then volume
	// name. Values are volume capacity in bytes.
	pools map[string]map[string]uint64

	// Configurable overrides
	poolLookupErr        error
	poolDefineErr        error
	poolBuildErr         error
	poolCreateErr        error
	poolAutostartErr     error
	volCreateErr         error
	volCreateFromErr     error
	volDeleteErr         error
	volUploadErr         error
	volGetInfoErr        error
	poolListAllVolsErr   error
	storageVolGetPathErr error

	// Call tracking
	definedPools  []string
	createdVols   []string
	clonedVols    []string
	deletedVols   []string
	uploadedBytes map[string]int
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{
		pools:         map[string]map[string]uint64{},
		uploadedBytes: map[string]int{},
	}
}

func (m *mockLibvirtClient) addPool(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[name]; !ok {
		m.pools[name] = map[string]uint64{}
	}
}

func (m *mockLibvirtClient) addVolume(pool, name string, capacity uint64) {
	m.addPool(pool)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool][name] = capacity
}

func (m *mockLibvirtClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poolLookupErr != nil {
		return libvirt.StoragePool{}, m.poolLookupErr
	}
	if _, ok := m.pools[name]; !ok {
		return libvirt.StoragePool{}, fmt.Errorf("pool not found: %s", name)
	}
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockLibvirtClient) StoragePoolDefineXML(xml string, flags uint32) (libvirt.StoragePool, error) {
	if m.poolDefineErr != nil {
		return libvirt.StoragePool{}, m.poolDefineErr
	}
	name := extractName(xml)
	m.mu.Lock()
	m.definedPools = append(m.definedPools, name)
	m.mu.Unlock()
	m.addPool(name)
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockLibvirtClient) StoragePoolCreate(pool libvirt.StoragePool, flags libvirt.StoragePoolCreateFlags) error {
	return m.poolCreateErr
}

func (m *mockLibvirtClient) StoragePoolBuild(pool libvirt.StoragePool, flags libvirt.StoragePoolBuildFlags) error {
	return m.poolBuildErr
}

func (m *mockLibvirtClient) StoragePoolSetAutostart(pool libvirt.StoragePool, autostart int32) error {
	return m.poolAutostartErr
}

func (m *mockLibvirtClient) StoragePoolUndefine(pool libvirt.StoragePool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, pool.Name)
	return nil
}

func (m *mockLibvirtClient) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	return nil
}

func (m *mockLibvirtClient) StoragePoolListAllVolumes(pool libvirt.StoragePool, needResults int32, flags uint32) ([]libvirt.StorageVol, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poolListAllVolsErr != nil {
		return nil, 0, m.poolListAllVolsErr
	}
	vols, ok := m.pools[pool.Name]
	if !ok {
		return nil, 0, fmt.Errorf("pool not found: %s", pool.Name)
	}
	var out []libvirt.StorageVol
	for name := range vols {
		out = append(out, libvirt.StorageVol{Pool: pool.Name, Name: name})
	}
	return out, uint32(len(out)), nil
}

func (m *mockLibvirtClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vols, ok := m.pools[pool.Name]
	if !ok {
		return libvirt.StorageVol{}, fmt.Errorf("pool not found: %s", pool.Name)
	}
	if _, ok := vols[name]; !ok {
		return libvirt.StorageVol{}, fmt.Errorf("volume not found: %s", name)
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockLibvirtClient) StorageVolCreateXML(pool libvirt.StoragePool, xml string, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	if m.volCreateErr != nil {
		return libvirt.StorageVol{}, m.volCreateErr
	}
	name := extractName(xml)
	m.addVolume(pool.Name, name, 0)
	m.mu.Lock()
	m.createdVols = append(m.createdVols, pool.Name+"/"+name)
	m.mu.Unlock()
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockLibvirtClient) StorageVolCreateXMLFrom(pool libvirt.StoragePool, xml string, clonevol libvirt.StorageVol, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	if m.volCreateFromErr != nil {
		return libvirt.StorageVol{}, m.volCreateFromErr
	}
	name := extractName(xml)
	m.addVolume(pool.Name, name, 0)
	m.mu.Lock()
	m.clonedVols = append(m.clonedVols, clonevol.Pool+"/"+clonevol.Name+"->"+pool.Name+"/"+name)
	m.mu.Unlock()
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockLibvirtClient) StorageVolDelete(vol libvirt.StorageVol, flags libvirt.StorageVolDeleteFlags) error {
	if m.volDeleteErr != nil {
		return m.volDeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if vols, ok := m.pools[vol.Pool]; ok {
		delete(vols, vol.Name)
	}
	m.deletedVols = append(m.deletedVols, vol.Pool+"/"+vol.Name)
	return nil
}

func (m *mockLibvirtClient) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	if m.storageVolGetPathErr != nil {
		return "", m.storageVolGetPathErr
	}
	return "/var/lib/kiln/" + vol.Pool + "/" + vol.Name, nil
}

func (m *mockLibvirtClient) StorageVolGetInfo(vol libvirt.StorageVol) (int8, uint64, uint64, error) {
	if m.volGetInfoErr != nil {
		return 0, 0, 0, m.volGetInfoErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	capacity := m.pools[vol.Pool][vol.Name]
	return 0, capacity, capacity, nil
}

func (m *mockLibvirtClient) StorageVolUpload(vol libvirt.StorageVol, outStream io.Reader, offset, length uint64, flags libvirt.StorageVolUploadFlags) error {
	if m.volUploadErr != nil {
		return m.volUploadErr
	}
	data, err := io.ReadAll(outStream)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadedBytes[vol.Pool+"/"+vol.Name] = len(data)
	return nil
}

// extractName pulls the <name> element out of a pool or volume XML document.
func extractName(xml string) string {
	i := strings.Index(xml, "<name>")
	if i < 0 {
		return ""
	}
	rest := xml[i+len("<name>"):]
	j := strings.Index(rest, "</name>")
	if j < 0 {
		return ""
	}
	return rest[:j]
}
