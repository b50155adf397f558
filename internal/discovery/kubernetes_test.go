package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/gatehouseio/gatehouse/internal/config"
	"github.com/gatehouseio/gatehouse/internal/registry"
)

func endpointsObject(name string, port int32, ips ...string) *corev1.Endpoints {
	addresses := make([]corev1.EndpointAddress, 0, len(ips))
	for _, ip := range ips {
		addresses = append(addresses, corev1.EndpointAddress{IP: ip})
	}
	return &corev1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Subsets: []corev1.EndpointSubset{
			{
				Addresses: addresses,
				Ports:     []corev1.EndpointPort{{Name: "http", Port: port}},
			},
		},
	}
}

func startWatcher(t *testing.T, reg *registry.Registry) (*KubernetesWatcher, *fake.Clientset) {
	t.Helper()

	client := fake.NewSimpleClientset()
	watcher := NewKubernetesWatcherWithClient(config.KubernetesDiscoveryConfig{
		Namespace: "default",
		Resync:    config.Duration(time.Minute),
	}, client, reg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, watcher.Start(ctx))
	t.Cleanup(watcher.Stop)

	return watcher, client
}

func waitForLen(t *testing.T, reg *registry.Registry, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return reg.Len() == want
	}, 3*time.Second, 10*time.Millisecond, "registry never reached %d endpoints", want)
}

func TestKubernetesWatcherRegistersAddresses(t *testing.T) {
	reg := registry.NewRegistry(nil)
	_, client := startWatcher(t, reg)

	_, err := client.CoreV1().Endpoints("default").Create(
		context.Background(), endpointsObject("orders", 8080, "10.0.0.1", "10.0.0.2"), metav1.CreateOptions{})
	require.NoError(t, err)

	waitForLen(t, reg, 2)

	_, ok := reg.Get("orders", "http://10.0.0.1:8080")
	assert.True(t, ok)
	_, ok = reg.Get("orders", "http://10.0.0.2:8080")
	assert.True(t, ok)
}

func TestKubernetesWatcherDropsRemovedAddresses(t *testing.T) {
	reg := registry.NewRegistry(nil)
	_, client := startWatcher(t, reg)

	_, err := client.CoreV1().Endpoints("default").Create(
		context.Background(), endpointsObject("orders", 8080, "10.0.0.1", "10.0.0.2"), metav1.CreateOptions{})
	require.NoError(t, err)
	waitForLen(t, reg, 2)

	_, err = client.CoreV1().Endpoints("default").Update(
		context.Background(), endpointsObject("orders", 8080, "10.0.0.1"), metav1.UpdateOptions{})
	require.NoError(t, err)
	waitForLen(t, reg, 1)

	_, ok := reg.Get("orders", "http://10.0.0.2:8080")
	assert.False(t, ok)
}

func TestKubernetesWatcherRemovesDeletedObject(t *testing.T) {
	reg := registry.NewRegistry(nil)
	_, client := startWatcher(t, reg)

	_, err := client.CoreV1().Endpoints("default").Create(
		context.Background(), endpointsObject("orders", 8080, "10.0.0.1"), metav1.CreateOptions{})
	require.NoError(t, err)
	waitForLen(t, reg, 1)

	require.NoError(t, client.CoreV1().Endpoints("default").Delete(
		context.Background(), "orders", metav1.DeleteOptions{}))
	waitForLen(t, reg, 0)
}

func TestHTTPPortSelection(t *testing.T) {
	port, ok := httpPort([]corev1.EndpointPort{
		{Name: "grpc", Port: 9090},
		{Name: "http", Port: 8080},
	})
	require.True(t, ok)
	assert.Equal(t, int32(8080), port)

	port, ok = httpPort([]corev1.EndpointPort{{Name: "metrics", Port: 9100}})
	require.True(t, ok)
	assert.Equal(t, int32(9100), port)

	_, ok = httpPort(nil)
	assert.False(t, ok)
}
